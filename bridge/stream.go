package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StreamState is the streaming ParserState machine's current mode
// (spec.md §3, §4.4 state table).
type StreamState int

const (
	StatePROSE StreamState = iota
	StateINTHINK
	StateINENVELOPE
	StateTERMINAL
)

const thinkOpenTag = "<think>"
const thinkCloseTag = "</think>"
const envelopeCloseTag = "</tool_calls>"

// envelopeCall is a name/arguments pair observed inside the growing
// envelope buffer, before an id has been assigned.
type envelopeCall struct {
	name, arguments string
}

func matchEnvelopeCalls(buffer string) []envelopeCall {
	matches := toolCallEnvelopeTagRegex.FindAllStringSubmatch(buffer, -1)
	out := make([]envelopeCall, 0, len(matches))
	for _, m := range matches {
		inner := m[1]
		nameMatch := toolCallNameRegex.FindStringSubmatch(inner)
		if nameMatch == nil || strings.TrimSpace(nameMatch[1]) == "" {
			continue
		}
		args := ""
		if argMatch := toolCallArgumentsRegex.FindStringSubmatch(inner); argMatch != nil {
			args = strings.TrimSpace(argMatch[1])
		}
		out = append(out, envelopeCall{name: strings.TrimSpace(nameMatch[1]), arguments: args})
	}
	return out
}

// StreamProcessor is the explicit stream transducer required by spec.md
// §9: feed(chunk) -> []outFrames, close() -> []outFrames, with all
// buffer-reassembly state held as struct fields rather than behind
// language-level suspension points. One instance is created per response
// and discarded when the upstream stream closes (spec.md §3 ParserState
// lifecycle).
type StreamProcessor struct {
	id       string
	model    string
	created  int64
	trigger  string
	thinkMode string
	capBytes int

	state   StreamState
	pending string // bytes held back pending a possible partial trigger/tag match
	envelope strings.Builder
	calls    []ExtractedCall // finalized, id-assigned calls emitted so far
	degraded bool            // envelope cap exceeded; remaining bytes pass through raw

	wroteAnyContent bool
	closed          bool
}

// NewStreamProcessor constructs a processor for one response. id/model
// are carried into every emitted chunk's id/model fields, matching the
// teacher's chatcmpl-tools-<nanos> id convention.
func NewStreamProcessor(model string, trigger string, thinkMode string, capBytes int) *StreamProcessor {
	if capBytes <= 0 {
		capBytes = 256 * 1024
	}
	return &StreamProcessor{
		id:        fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		model:     model,
		created:   time.Now().Unix(),
		trigger:   trigger,
		thinkMode: thinkMode,
		capBytes:  capBytes,
	}
}

// Feed consumes one upstream delta's text content and returns zero or
// more ready-to-write SSE frames ("data: {...}\n\n").
func (s *StreamProcessor) Feed(delta string) []byte {
	if s.closed || delta == "" {
		return nil
	}
	var out []byte
	s.pending += delta

	for {
		progressed, frames := s.step()
		out = append(out, frames...)
		if !progressed {
			break
		}
	}
	return out
}

// step performs at most one state transition / emission using the
// currently buffered s.pending, returning whether it made progress (so
// Feed can loop until the buffer is exhausted of decidable content).
func (s *StreamProcessor) step() (bool, []byte) {
	switch s.state {
	case StatePROSE:
		return s.stepProse()
	case StateINTHINK:
		return s.stepInThink()
	case StateINENVELOPE:
		return s.stepInEnvelope()
	default:
		return false, nil
	}
}

func (s *StreamProcessor) stepProse() (bool, []byte) {
	if s.degraded {
		if s.pending == "" {
			return false, nil
		}
		frame := s.contentFrame(s.pending)
		s.pending = ""
		return true, frame
	}

	thinkIdx := strings.Index(s.pending, thinkOpenTag)
	trigIdx := -1
	if s.trigger != "" {
		trigIdx = strings.Index(s.pending, s.trigger)
	}

	switch {
	case trigIdx != -1 && (thinkIdx == -1 || trigIdx <= thinkIdx):
		before := s.pending[:trigIdx]
		s.pending = s.pending[trigIdx+len(s.trigger):]
		var out []byte
		if before != "" {
			out = append(out, s.contentFrame(before)...)
		}
		s.state = StateINENVELOPE
		return true, out

	case thinkIdx != -1:
		before := s.pending[:thinkIdx]
		s.pending = s.pending[thinkIdx+len(thinkOpenTag):]
		var out []byte
		if before != "" {
			out = append(out, s.contentFrame(before)...)
		}
		if s.thinkMode != "strip" {
			out = append(out, s.contentFrame(thinkOpenTag)...)
		}
		s.state = StateINTHINK
		return true, out
	}

	// Nothing fully matched; hold back a suffix that could still become a
	// partial trigger or "<think>" match, emit the rest as content.
	holdBack := s.longestPendingPrefixOverlap()
	if len(s.pending) <= holdBack {
		return false, nil
	}
	emit := s.pending[:len(s.pending)-holdBack]
	s.pending = s.pending[len(s.pending)-holdBack:]
	if emit == "" {
		return false, nil
	}
	return true, s.contentFrame(emit)
}

// longestPendingPrefixOverlap returns how many trailing bytes of
// s.pending might be the start of the trigger token or "<think>", and so
// must be held back rather than emitted as content (spec.md §4.4
// streaming contract, hold-back discipline).
func (s *StreamProcessor) longestPendingPrefixOverlap() int {
	best := 0
	for _, needle := range []string{s.trigger, thinkOpenTag} {
		if needle == "" {
			continue
		}
		if n := suffixPrefixOverlap(s.pending, needle); n > best {
			best = n
		}
	}
	return best
}

// suffixPrefixOverlap returns the length of the longest suffix of s that
// is a proper prefix of needle (and thus could extend into a full match
// once more bytes arrive).
func suffixPrefixOverlap(s, needle string) int {
	max := len(needle) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, needle[:n]) {
			return n
		}
	}
	return 0
}

func (s *StreamProcessor) stepInThink() (bool, []byte) {
	closeIdx := strings.Index(s.pending, thinkCloseTag)
	if closeIdx != -1 {
		inside := s.pending[:closeIdx]
		s.pending = s.pending[closeIdx+len(thinkCloseTag):]
		s.state = StatePROSE
		if s.thinkMode == "strip" {
			return true, nil
		}
		return true, s.contentFrame(inside + thinkCloseTag)
	}

	holdBack := suffixPrefixOverlap(s.pending, thinkCloseTag)
	if len(s.pending) <= holdBack {
		return false, nil
	}
	emit := s.pending[:len(s.pending)-holdBack]
	s.pending = s.pending[len(s.pending)-holdBack:]
	if s.thinkMode == "strip" {
		return true, nil
	}
	if emit == "" {
		return false, nil
	}
	return true, s.contentFrame(emit)
}

func (s *StreamProcessor) stepInEnvelope() (bool, []byte) {
	if s.pending == "" {
		return false, nil
	}
	s.envelope.WriteString(s.pending)
	s.pending = ""

	if s.envelope.Len() > s.capBytes {
		// spec.md §5: cap exceeded without a terminal tag -> degrade to
		// prose instead of unbounded growth or an HTTP-level error.
		s.degraded = true
		s.state = StatePROSE
		s.pending = s.envelope.String()
		s.envelope.Reset()
		return true, nil
	}

	var out []byte
	out = append(out, s.emitNewCalls()...)

	if idx := strings.Index(s.envelope.String(), envelopeCloseTag); idx != -1 {
		s.state = StateTERMINAL
		out = append(out, s.finishFrame("tool_calls")...)
	}
	return len(out) > 0, out
}

// emitNewCalls re-scans the accumulated envelope buffer and emits a
// streaming tool-call delta for every complete <tool_call> element beyond
// what has already been emitted. Ids are assigned once, on first
// emission, and never regenerated for already-emitted calls, so an id
// stays stable across subsequent deltas for the same index
// (spec.md §4.4 rule 5, §8 invariant 5).
func (s *StreamProcessor) emitNewCalls() []byte {
	matches := matchEnvelopeCalls(s.envelope.String())
	if len(matches) <= len(s.calls) {
		return nil
	}
	var out []byte
	for i := len(s.calls); i < len(matches); i++ {
		m := matches[i]
		call := ExtractedCall{ID: NewToolCallID(), Name: m.name, Arguments: m.arguments}
		s.calls = append(s.calls, call)
		out = append(out, s.toolCallDelta(i, call)...)
	}
	return out
}

func (s *StreamProcessor) toolCallDelta(index int, call ExtractedCall) []byte {
	head := map[string]any{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]any{
			{
				"index": 0,
				"delta": map[string]any{
					"tool_calls": []map[string]any{
						{
							"index": index,
							"id":    call.ID,
							"type":  "function",
							"function": map[string]any{
								"name":      call.Name,
								"arguments": "",
							},
						},
					},
				},
			},
		},
	}
	tail := map[string]any{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]any{
			{
				"index": 0,
				"delta": map[string]any{
					"tool_calls": []map[string]any{
						{
							"index": index,
							"function": map[string]any{
								"arguments": call.Arguments,
							},
						},
					},
				},
			},
		},
	}
	var out []byte
	out = append(out, sseFrame(head)...)
	out = append(out, sseFrame(tail)...)
	return out
}

func (s *StreamProcessor) contentFrame(content string) []byte {
	if content == "" {
		return nil
	}
	s.wroteAnyContent = true
	chunk := map[string]any{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]any{
			{
				"index": 0,
				"delta": map[string]any{"content": content},
			},
		},
	}
	return sseFrame(chunk)
}

func (s *StreamProcessor) finishFrame(reason string) []byte {
	chunk := map[string]any{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []map[string]any{
			{
				"index":         0,
				"delta":         map[string]any{},
				"finish_reason": reason,
			},
		},
	}
	out := sseFrame(chunk)
	out = append(out, []byte("data: [DONE]\n\n")...)
	s.closed = true
	return out
}

// Close flushes any remaining held-back bytes and, if the stream ends
// mid-envelope or mid-think, produces a best-effort finish (spec.md §4.4
// robustness rules: a truncated envelope yields whatever complete
// <tool_call> elements were observed; a stream that never saw the
// trigger closes with finish_reason="stop").
func (s *StreamProcessor) Close() []byte {
	if s.closed {
		return nil
	}
	var out []byte
	switch s.state {
	case StateINTHINK:
		if s.thinkMode != "strip" && s.pending != "" {
			out = append(out, s.contentFrame(s.pending)...)
		}
		out = append(out, s.finishFrame("stop")...)
	case StateINENVELOPE:
		if s.pending != "" {
			s.envelope.WriteString(s.pending)
			s.pending = ""
		}
		out = append(out, s.emitNewCalls()...)
		if len(s.calls) > 0 {
			out = append(out, s.finishFrame("tool_calls")...)
		} else {
			// Trigger seen but no well-formed envelope ever completed:
			// surface whatever was accumulated, best-effort.
			if s.envelope.Len() > 0 {
				out = append(out, s.contentFrame(s.envelope.String())...)
			}
			out = append(out, s.finishFrame("stop")...)
		}
	default:
		if s.pending != "" {
			out = append(out, s.contentFrame(s.pending)...)
		}
		out = append(out, s.finishFrame("stop")...)
	}
	return out
}

func sseFrame(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out []byte
	out = append(out, []byte("data: ")...)
	out = append(out, b...)
	out = append(out, []byte("\n\n")...)
	return out
}
