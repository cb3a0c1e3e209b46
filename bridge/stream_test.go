package bridge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// collectContent runs every "data: {...}" frame in raw and concatenates
// every choices[0].delta.content field found, in order, ignoring
// non-content frames and the terminal [DONE] sentinel.
func collectContent(t *testing.T, raw []byte) string {
	t.Helper()
	var b strings.Builder
	for _, frame := range splitFrames(raw) {
		if frame == "[DONE]" {
			continue
		}
		b.WriteString(gjson.Get(frame, "choices.0.delta.content").String())
	}
	return b.String()
}

func splitFrames(raw []byte) []string {
	var out []string
	for _, part := range strings.Split(string(raw), "\n\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, strings.TrimSpace(strings.TrimPrefix(part, "data:")))
	}
	return out
}

func collectToolCallDeltas(raw []byte) []gjson.Result {
	var out []gjson.Result
	for _, frame := range splitFrames(raw) {
		if frame == "[DONE]" {
			continue
		}
		tc := gjson.Get(frame, "choices.0.delta.tool_calls")
		if tc.IsArray() && len(tc.Array()) > 0 {
			out = append(out, tc.Array()[0])
		}
	}
	return out
}

func finishReasons(raw []byte) []string {
	var out []string
	for _, frame := range splitFrames(raw) {
		if frame == "[DONE]" {
			continue
		}
		if fr := gjson.Get(frame, "choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
			out = append(out, fr.String())
		}
	}
	return out
}

func TestStreamProsePassthroughNoTrigger(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	out := p.Feed("just some plain text")
	out = append(out, p.Close()...)
	assert.Equal(t, "just some plain text", collectContent(t, out))
	assert.Equal(t, []string{"stop"}, finishReasons(out))
}

func TestStreamTriggerNeverLeaksToClient(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	out := p.Feed("hello " + testTrigger + "<tool_calls><tool_call><name>x</name><arguments>{}</arguments></tool_call></tool_calls>")
	out = append(out, p.Close()...)
	assert.NotContains(t, string(out), testTrigger)
}

func TestStreamE3TriggerStraddlesChunkBoundary(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	var out []byte
	out = append(out, p.Feed("Thinking… §§§")...)
	out = append(out, p.Feed("FC§§§<tool_calls><tool_call><name>ping</name><arguments>{}</arguments></tool_call></tool_calls>")...)
	out = append(out, p.Close()...)

	assert.Equal(t, "Thinking… ", collectContent(t, out))
	deltas := collectToolCallDeltas(out)
	require.Len(t, deltas, 2)
	assert.Equal(t, float64(0), deltas[0].Get("index").Num)
	assert.Equal(t, "ping", deltas[0].Get("function.name").String())
	assert.Equal(t, "{}", deltas[1].Get("function.arguments").String())
	assert.Equal(t, []string{"tool_calls"}, finishReasons(out))
}

func TestStreamE6ThinkTagHidesTriggerFromExtraction(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	out := p.Feed("<think>about to call " + testTrigger + "</think>answer")
	out = append(out, p.Close()...)

	assert.Equal(t, "<think>about to call "+testTrigger+"</think>answer", collectContent(t, out))
	assert.Equal(t, []string{"stop"}, finishReasons(out))
	assert.Empty(t, collectToolCallDeltas(out))
}

func TestStreamThinkStripModeOmitsRegion(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "strip", 0)
	out := p.Feed("before<think>hidden</think>after")
	out = append(out, p.Close()...)
	assert.Equal(t, "beforeafter", collectContent(t, out))
}

func TestStreamIndexMonotonicityAcrossMultipleCalls(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	out := p.Feed(testTrigger + `<tool_calls>
		<tool_call><name>a</name><arguments>{}</arguments></tool_call>
		<tool_call><name>b</name><arguments>{}</arguments></tool_call>
		<tool_call><name>c</name><arguments>{}</arguments></tool_call>
	</tool_calls>`)
	out = append(out, p.Close()...)

	deltas := collectToolCallDeltas(out)
	var indices []float64
	seen := map[float64]bool{}
	for _, d := range deltas {
		idx := d.Get("index").Num
		if !seen[idx] {
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	assert.Equal(t, []float64{0, 1, 2}, indices)
}

func TestStreamIdsAreUniqueWithinResponse(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	out := p.Feed(testTrigger + `<tool_calls>
		<tool_call><name>a</name><arguments>{}</arguments></tool_call>
		<tool_call><name>b</name><arguments>{}</arguments></tool_call>
	</tool_calls>`)
	out = append(out, p.Close()...)

	seenIDs := map[string]bool{}
	for _, frame := range splitFrames(out) {
		if frame == "[DONE]" {
			continue
		}
		id := gjson.Get(frame, "choices.0.delta.tool_calls.0.id").String()
		if id != "" {
			assert.False(t, seenIDs[id], "id %s emitted twice", id)
			seenIDs[id] = true
		}
	}
}

func TestStreamIdStableAcrossDeltasForSameIndex(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	var out []byte
	out = append(out, p.Feed(testTrigger+"<tool_calls><tool_call><name>ping</name>")...)
	out = append(out, p.Feed("<arguments>{}</arguments></tool_call></tool_calls>")...)
	out = append(out, p.Close()...)

	var id string
	for _, frame := range splitFrames(out) {
		got := gjson.Get(frame, "choices.0.delta.tool_calls.0.id").String()
		if got != "" {
			if id == "" {
				id = got
			} else {
				assert.Equal(t, id, got)
			}
		}
	}
	assert.NotEmpty(t, id)
}

func TestStreamChunkBoundaryInvarianceAcrossSplits(t *testing.T) {
	full := "Hello there, " + testTrigger + `<tool_calls><tool_call><name>ping</name><arguments>{"x":1}</arguments></tool_call></tool_calls>`

	run := func(splitAt int) ([]byte, []byte) {
		p := NewStreamProcessor("m", testTrigger, "pass", 0)
		var out []byte
		if splitAt <= 0 || splitAt >= len(full) {
			out = append(out, p.Feed(full)...)
		} else {
			out = append(out, p.Feed(full[:splitAt])...)
			out = append(out, p.Feed(full[splitAt:])...)
		}
		out = append(out, p.Close()...)
		return []byte(collectContent(t, out)), out
	}

	baseContent, baseOut := run(0)
	baseCalls := collectToolCallDeltas(baseOut)

	for _, splitAt := range []int{1, 5, 13, 14, 20, len(full) - 1} {
		content, out := run(splitAt)
		assert.Equal(t, string(baseContent), string(content), "split at %d changed content", splitAt)
		calls := collectToolCallDeltas(out)
		require.Equal(t, len(baseCalls), len(calls), "split at %d changed call count", splitAt)
		for i := range calls {
			assert.Equal(t, baseCalls[i].Get("function.name").String(), calls[i].Get("function.name").String(), "split at %d", splitAt)
		}
	}
}

func TestStreamEnvelopeCapExceededDegradesToProse(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 16)
	out := p.Feed(testTrigger + "<tool_calls><tool_call><name>a</name><arguments>" + strings.Repeat("x", 64) + "</arguments></tool_call>")
	out = append(out, p.Close()...)
	assert.Equal(t, []string{"stop"}, finishReasons(out))
}

func TestStreamNoContentBeforeTriggerOnImmediateMatch(t *testing.T) {
	p := NewStreamProcessor("m", testTrigger, "pass", 0)
	out := p.Feed(testTrigger + "<tool_calls><tool_call><name>x</name><arguments>{}</arguments></tool_call></tool_calls>")
	out = append(out, p.Close()...)
	assert.Empty(t, collectContent(t, out))
}
