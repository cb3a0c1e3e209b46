package bridge

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmbridge/fc-bridge/bridge/errtype"
)

// ExtractedCall is one parsed tool invocation, with arguments kept as the
// literal string the model emitted (spec.md §4.4 rule 4: never
// re-serialize, byte-exact text is required downstream).
type ExtractedCall struct {
	ID        string
	Name      string
	Arguments string
}

// Extraction is the result of running the extraction algorithm over a
// single block of assistant text.
type Extraction struct {
	Prose        string
	Calls        []ExtractedCall
	FinishReason string // "stop" or "tool_calls"
}

// toolCallEnvelopeTagRegex locates a single <tool_call>...</tool_call>
// child within a <tool_calls> envelope. Grounded on the teacher's
// toolCallTagRegex, adapted from the teacher's JSON-in-tags dialect to
// this spec's <name>/<arguments> sub-tag dialect.
var toolCallEnvelopeTagRegex = regexp.MustCompile(`(?is)<tool_call>\s*(.*?)\s*</tool_call>`)
var toolCallNameRegex = regexp.MustCompile(`(?is)<name>\s*(.*?)\s*</name>`)
var toolCallArgumentsRegex = regexp.MustCompile(`(?is)<arguments>(.*?)</arguments>`)

// embeddedToolCallRegex matches the teacher's defensive bare dialect from
// proxymanager.go's toolCallTagRegex: a single JSON object directly inside
// <tool_call>...</tool_call>, with no surrounding trigger token and no
// <name>/<arguments> sub-tags.
var embeddedToolCallRegex = regexp.MustCompile(`(?is)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// ExtractToolCalls implements spec.md §4.4's shared extraction algorithm
// over a complete block of assistant text (used directly in non-streaming
// mode, and by the streaming state machine once an envelope is complete).
// thinkMode is "pass" (default, restore <think> regions verbatim) or
// "strip" (drop them from the client-visible output entirely); either way
// they are never scanned for the trigger.
func ExtractToolCalls(text string, trigger string, thinkMode string) Extraction {
	withoutThink, thinkRemoved := stripThinkRegions(text)
	if thinkMode == "strip" {
		thinkRemoved = nil
	}
	idx := strings.Index(withoutThink, trigger)
	if idx == -1 {
		// No trigger token anywhere: before surfacing raw prose, try the
		// teacher's defensive bare <tool_call>{...}</tool_call> dialect, for
		// a model that drifted to emitting tool calls without ever having
		// been taught the trigger-token envelope.
		if calls := ExtractEmbedded(withoutThink); len(calls) > 0 {
			prose := embeddedToolCallRegex.ReplaceAllString(withoutThink, "")
			return Extraction{
				Prose:        strings.TrimSpace(restoreThinkRegions(prose, thinkRemoved)),
				Calls:        calls,
				FinishReason: "tool_calls",
			}
		}
		// Rule 2: pure prose. Thinking regions are restored verbatim —
		// they were only hidden from trigger matching, not from the
		// client (spec.md §4.4 rule 1 default: pass-through).
		return Extraction{Prose: restoreThinkRegions(withoutThink, thinkRemoved), FinishReason: "stop"}
	}

	prose := withoutThink[:idx]
	tail := withoutThink[idx+len(trigger):]

	calls := parseEnvelope(tail)
	if len(calls) == 0 {
		// Rule (robustness): trigger seen but no well-formed envelope —
		// surface trigger + tail as prose.
		return Extraction{
			Prose:        restoreThinkRegions(prose, thinkRegionsBefore(thinkRemoved, idx)) + trigger + tail,
			FinishReason: "stop",
		}
	}

	return Extraction{
		Prose:        restoreThinkRegions(prose, thinkRegionsBefore(thinkRemoved, idx)),
		Calls:        calls,
		FinishReason: "tool_calls",
	}
}

// parseEnvelope walks tail with the teacher's index-walking strategy
// (grounded on xmltool_parser.go's parseXMLToolCalls), extracting every
// complete <tool_call> element. A truncated envelope at end-of-stream
// (trigger seen, </tool_calls> never seen) still yields whatever complete
// elements were observed, per spec.md §4.4 robustness rules.
func parseEnvelope(tail string) []ExtractedCall {
	matches := toolCallEnvelopeTagRegex.FindAllStringSubmatch(tail, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]ExtractedCall, 0, len(matches))
	for _, m := range matches {
		inner := m[1]
		nameMatch := toolCallNameRegex.FindStringSubmatch(inner)
		if nameMatch == nil || strings.TrimSpace(nameMatch[1]) == "" {
			continue
		}
		name := strings.TrimSpace(nameMatch[1])

		args := ""
		if argMatch := toolCallArgumentsRegex.FindStringSubmatch(inner); argMatch != nil {
			args = strings.TrimSpace(argMatch[1])
		}

		out = append(out, ExtractedCall{
			ID:        NewToolCallID(),
			Name:      name,
			Arguments: args,
		})
	}
	return out
}

// ExtractEmbedded recognizes the teacher's parseEmbeddedToolCalls dialect: a
// bare <tool_call>{"name": "...", "arguments": {...}}</tool_call> tag with
// no trigger token and no <name>/<arguments> sub-tags, used as a secondary
// extraction path when the primary trigger-token envelope never appears, so
// a model that drifts to this shape is salvaged rather than surfaced as raw
// prose (spec.md §4.4 supplemented features).
func ExtractEmbedded(text string) []ExtractedCall {
	matches := embeddedToolCallRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]ExtractedCall, 0, len(matches))
	for _, m := range matches {
		raw := strings.TrimSpace(m[1])
		if raw == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			continue
		}
		name, _ := obj["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		args := "{}"
		if v, ok := obj["arguments"]; ok {
			switch a := v.(type) {
			case string:
				args = a
			default:
				if b, err := json.Marshal(a); err == nil {
					args = string(b)
				}
			}
		}
		out = append(out, ExtractedCall{ID: NewToolCallID(), Name: name, Arguments: args})
	}
	return out
}

// NewToolCallID mints a tool-call id of the form "call_<uuid>", grounded
// on juburr-openai-tool-adapter's GenerateToolCallID: UUIDv7 for a
// timestamp-ordered, collision-resistant, RFC 4122-compliant id, falling
// back to UUIDv4 if the v7 generator ever fails.
func NewToolCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "call_" + id.String()
}

type thinkRegion struct {
	start, end int // byte offsets in the *stripped* text where it was removed
	content    string
}

// stripThinkRegions removes every <think>...</think> span from text so the
// trigger scan never looks inside one (spec.md §4.4 rule 1), returning the
// stripped text and the regions removed (offsets relative to the stripped
// text, for later verbatim reinsertion).
func stripThinkRegions(text string) (string, []thinkRegion) {
	var regions []thinkRegion
	var b strings.Builder
	rest := text
	for {
		open := strings.Index(rest, "<think>")
		if open == -1 {
			b.WriteString(rest)
			break
		}
		closeIdx := strings.Index(rest[open:], "</think>")
		if closeIdx == -1 {
			// Unterminated <think>: treat the rest of the text as part of
			// the thinking region rather than risk scanning it for a
			// trigger that was never meant to surface.
			b.WriteString(rest[:open])
			regions = append(regions, thinkRegion{start: b.Len(), content: rest[open:]})
			break
		}
		closeEnd := open + closeIdx + len("</think>")
		b.WriteString(rest[:open])
		regions = append(regions, thinkRegion{start: b.Len(), content: rest[open:closeEnd]})
		rest = rest[closeEnd:]
	}
	return b.String(), regions
}

func thinkRegionsBefore(regions []thinkRegion, idx int) []thinkRegion {
	var out []thinkRegion
	for _, r := range regions {
		if r.start <= idx {
			out = append(out, r)
		}
	}
	return out
}

// restoreThinkRegions reinserts previously-stripped <think> spans back
// into stripped text at their recorded offsets, in reverse order so
// earlier insertions don't invalidate later offsets.
func restoreThinkRegions(stripped string, regions []thinkRegion) string {
	if len(regions) == 0 {
		return stripped
	}
	out := stripped
	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		out = out[:r.start] + r.content + out[r.start:]
	}
	return out
}

// ParseNonStreamingResponse implements spec.md §4.4's non-streaming mode:
// load the full upstream JSON, extract tool calls from the assistant
// content, and rebuild the response object in place using sjson so
// every other field the upstream returned (usage, id, created, ...) is
// forwarded untouched.
func ParseNonStreamingResponse(body []byte, ctx *RequestContext) ([]byte, error) {
	content := gjson.GetBytes(body, "choices.0.message.content").String()

	if !ctx.FunctionCalling {
		return body, nil
	}

	extraction := ExtractToolCalls(content, ctx.TriggerToken, ctx.ThinkMode)

	out, err := sjson.SetBytes(body, "choices.0.message.content", extraction.Prose)
	if err != nil {
		return nil, errtype.MalformedEnvelope("failed to rewrite content: %v", err)
	}
	out, err = sjson.DeleteBytes(out, "choices.0.message.tool_calls")
	if err != nil {
		return nil, errtype.MalformedEnvelope("failed to clear tool_calls: %v", err)
	}

	if len(extraction.Calls) > 0 {
		wire := make([]ToolCall, len(extraction.Calls))
		for i, c := range extraction.Calls {
			wire[i] = ToolCall{
				ID:   c.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      c.Name,
					Arguments: c.Arguments,
				},
			}
		}
		wireBytes, err := json.Marshal(wire)
		if err != nil {
			return nil, errtype.MalformedEnvelope("failed to encode tool_calls: %v", err)
		}
		out, err = sjson.SetRawBytes(out, "choices.0.message.tool_calls", wireBytes)
		if err != nil {
			return nil, errtype.MalformedEnvelope("failed to set tool_calls: %v", err)
		}
	}

	out, err = sjson.SetBytes(out, "choices.0.finish_reason", extraction.FinishReason)
	if err != nil {
		return nil, errtype.MalformedEnvelope("failed to set finish_reason: %v", err)
	}
	return out, nil
}
