package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testTrigger = "§§§FC§§§"

func TestExtractToolCallsPureProse(t *testing.T) {
	e := ExtractToolCalls("just a normal reply", testTrigger, "pass")
	assert.Equal(t, "just a normal reply", e.Prose)
	assert.Empty(t, e.Calls)
	assert.Equal(t, "stop", e.FinishReason)
}

func TestExtractToolCallsSingleCall(t *testing.T) {
	text := `Sure.` + testTrigger + `<tool_calls><tool_call><name>get_weather</name><arguments>{"city":"Paris"}</arguments></tool_call></tool_calls>`
	e := ExtractToolCalls(text, testTrigger, "pass")
	assert.Equal(t, "Sure.", e.Prose)
	require.Len(t, e.Calls, 1)
	assert.Equal(t, "get_weather", e.Calls[0].Name)
	assert.Equal(t, `{"city":"Paris"}`, e.Calls[0].Arguments)
	assert.Equal(t, "tool_calls", e.FinishReason)
	assert.NotEmpty(t, e.Calls[0].ID)
}

func TestExtractToolCallsMultipleCallsGetDistinctIDs(t *testing.T) {
	text := testTrigger + `<tool_calls>
		<tool_call><name>a</name><arguments>{}</arguments></tool_call>
		<tool_call><name>b</name><arguments>{}</arguments></tool_call>
	</tool_calls>`
	e := ExtractToolCalls(text, testTrigger, "pass")
	require.Len(t, e.Calls, 2)
	assert.NotEqual(t, e.Calls[0].ID, e.Calls[1].ID)
	assert.Equal(t, "a", e.Calls[0].Name)
	assert.Equal(t, "b", e.Calls[1].Name)
}

func TestExtractToolCallsTriggerWithGarbledTailIsProse(t *testing.T) {
	text := "Hello" + testTrigger + "not an envelope at all"
	e := ExtractToolCalls(text, testTrigger, "pass")
	assert.Equal(t, text, e.Prose)
	assert.Empty(t, e.Calls)
	assert.Equal(t, "stop", e.FinishReason)
}

func TestExtractToolCallsPreservesInvalidJSONArgumentsVerbatim(t *testing.T) {
	text := testTrigger + `<tool_calls><tool_call><name>x</name><arguments>{not valid json</arguments></tool_call></tool_calls>`
	e := ExtractToolCalls(text, testTrigger, "pass")
	require.Len(t, e.Calls, 1)
	assert.Equal(t, "{not valid json", e.Calls[0].Arguments)
}

func TestExtractToolCallsThinkRegionNeverScannedForTrigger(t *testing.T) {
	text := "<think>about to call " + testTrigger + "</think>answer"
	e := ExtractToolCalls(text, testTrigger, "pass")
	assert.Equal(t, text, e.Prose)
	assert.Empty(t, e.Calls)
	assert.Equal(t, "stop", e.FinishReason)
}

func TestExtractToolCallsThinkStripModeRemovesRegion(t *testing.T) {
	text := "<think>internal</think>answer"
	e := ExtractToolCalls(text, testTrigger, "strip")
	assert.Equal(t, "answer", e.Prose)
}

func TestExtractToolCallsTruncatedEnvelopeBestEffort(t *testing.T) {
	text := testTrigger + `<tool_calls><tool_call><name>a</name><arguments>{}</arguments></tool_call>`
	e := ExtractToolCalls(text, testTrigger, "pass")
	require.Len(t, e.Calls, 1)
	assert.Equal(t, "a", e.Calls[0].Name)
}

func TestExtractToolCallsFallsBackToEmbeddedDialectWithoutTrigger(t *testing.T) {
	text := `Sure, let me check.<tool_call>{"name":"get_weather","arguments":{"city":"Paris"}}</tool_call>`
	e := ExtractToolCalls(text, testTrigger, "pass")
	require.Len(t, e.Calls, 1)
	assert.Equal(t, "get_weather", e.Calls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, e.Calls[0].Arguments)
	assert.Equal(t, "tool_calls", e.FinishReason)
	assert.Equal(t, "Sure, let me check.", e.Prose)
}

func TestExtractEmbeddedIgnoresTagsMissingAName(t *testing.T) {
	calls := ExtractEmbedded(`<tool_call>{"arguments":{}}</tool_call>`)
	assert.Empty(t, calls)
}

func TestExtractEmbeddedMultipleTags(t *testing.T) {
	text := `<tool_call>{"name":"a","arguments":{}}</tool_call><tool_call>{"name":"b","arguments":{}}</tool_call>`
	calls := ExtractEmbedded(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestParseNonStreamingResponseE1NoToolsPassthrough(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`)
	rc := &RequestContext{FunctionCalling: false}
	out, err := ParseNonStreamingResponse(body, rc)
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(out))
}

func TestParseNonStreamingResponseE2SingleToolCall(t *testing.T) {
	content := `Sure.` + testTrigger + `<tool_calls><tool_call><name>get_weather</name><arguments>{"city":"Paris"}</arguments></tool_call></tool_calls>`
	quoted, err := json.Marshal(content)
	require.NoError(t, err)
	body := []byte(`{"choices":[{"message":{"role":"assistant","content":` + string(quoted) + `},"finish_reason":"stop"}]}`)
	rc := &RequestContext{FunctionCalling: true, TriggerToken: testTrigger, ThinkMode: "pass"}

	out, err := ParseNonStreamingResponse(body, rc)
	require.NoError(t, err)

	result := gjson.GetBytes(out, "choices.0")
	assert.Equal(t, "Sure.", result.Get("message.content").String())
	assert.Equal(t, "tool_calls", result.Get("finish_reason").String())
	calls := result.Get("message.tool_calls").Array()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Get("function.name").String())
	assert.Equal(t, `{"city":"Paris"}`, calls[0].Get("function.arguments").String())
	assert.Equal(t, "function", calls[0].Get("type").String())
}
