package bridge

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/llmbridge/fc-bridge/bridge/errtype"
	"github.com/llmbridge/fc-bridge/config"
)

// RequestContext is the per-request immutable record constructed by the
// PromptInjector and consumed by the router and parser (spec.md §3).
type RequestContext struct {
	ClientKey       string
	RequestedModel  string
	Channels        []config.Channel
	Streaming       bool
	FunctionCalling bool
	TriggerToken    string
	ThinkMode       string
	OriginalTools   []ToolSpec
}

// PromptInjector rewrites an incoming chat-completions body so a model
// with no native tool-calling support can be taught to emit one via text,
// grounded on the teacher's injectToolSchemas merge-into-"tools" pattern
// but inverted: instead of handing the model a "tools" field, it receives
// a system-prompt description and a trigger token to respond with.
//
// The rewrite is done entirely with gjson reads and sjson writes over the
// raw body bytes, the same surgical style the teacher uses in
// activity_prompts.go, rather than a round-trip through encoding/json and
// map[string]any: fields the client sent that this bridge doesn't know
// about ride through untouched instead of surviving a lossy re-marshal.
type PromptInjector struct{}

func NewPromptInjector() *PromptInjector { return &PromptInjector{} }

// Inject implements spec.md §4.1 rules 1-8. clientKey is the
// already-authenticated client credential, carried into RequestContext for
// key_passthrough use by the router.
func (p *PromptInjector) Inject(body []byte, snap *config.Snapshot, clientKey string) ([]byte, *RequestContext, error) {
	if !gjson.ValidBytes(body) {
		return nil, nil, errtype.InvalidRequest("malformed chat completions body")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, nil, errtype.InvalidRequest("malformed chat completions body")
	}

	model := strings.TrimSpace(parsed.Get("model").String())
	if model == "" {
		return nil, nil, errtype.InvalidRequest("missing or invalid 'model' key")
	}
	messagesResult := parsed.Get("messages")
	if !messagesResult.IsArray() {
		return nil, nil, errtype.InvalidRequest("missing or invalid 'messages' key")
	}

	features := snap.Config.Features
	rawMessages := rawMessageSlice(messagesResult)

	// Rule 2: developer -> system role remap.
	if features.ConvertDeveloperToSystem {
		for i, msg := range rawMessages {
			if gjson.Parse(msg).Get("role").String() != "developer" {
				continue
			}
			if updated, err := sjson.Set(msg, "role", "system"); err == nil {
				rawMessages[i] = updated
			}
		}
	}

	channels := snap.Config.EligibleChannels(model)
	tools := parseToolSpecs(parsed.Get("tools"))

	ctx := &RequestContext{
		ClientKey:      clientKey,
		RequestedModel: model,
		Channels:       channels,
		Streaming:      parsed.Get("stream").Bool(),
		ThinkMode:      features.ThinkMode,
		OriginalTools:  tools,
	}

	fcActive := features.EnableFunctionCalling && len(tools) > 0
	ctx.FunctionCalling = fcActive

	if fcActive {
		ctx.TriggerToken = features.TriggerToken
		systemPrompt := renderSystemPrompt(features.PromptTemplate, tools, ctx.TriggerToken)
		rawMessages = annotateToolResults(rawMessages)
		rawMessages = prependSystemMessage(rawMessages, systemPrompt)
	}

	out, err := sjson.SetRawBytes(body, "messages", []byte(joinRawArray(rawMessages)))
	if err != nil {
		return nil, nil, errtype.InvalidRequest("failed to rewrite messages: %v", err)
	}
	out, err = sjson.DeleteBytes(out, "tools")
	if err != nil {
		return nil, nil, errtype.InvalidRequest("failed to strip tools: %v", err)
	}
	out, err = sjson.DeleteBytes(out, "tool_choice")
	if err != nil {
		return nil, nil, errtype.InvalidRequest("failed to strip tool_choice: %v", err)
	}

	if len(channels) > 0 {
		if real, ok := channels[0].ResolveReal(model); ok {
			out, err = sjson.SetBytes(out, "model", real)
			if err != nil {
				return nil, nil, errtype.InvalidRequest("failed to rewrite model: %v", err)
			}
		}
	}

	return out, ctx, nil
}

// rawMessageSlice pulls each message's raw JSON text out of a gjson array
// result, so per-message mutation can be done with sjson without decoding
// the message into a Go struct first.
func rawMessageSlice(messages gjson.Result) []string {
	arr := messages.Array()
	out := make([]string, len(arr))
	for i, m := range arr {
		out[i] = m.Raw
	}
	return out
}

// joinRawArray reassembles a slice of raw JSON object texts into a raw
// JSON array text, for handing to sjson.SetRawBytes.
func joinRawArray(rawElements []string) string {
	return "[" + strings.Join(rawElements, ",") + "]"
}

// parseToolSpecs decodes the client's "tools" array into typed ToolSpecs,
// using gjson.Result.Value() rather than encoding/json for the nested,
// schema-less "parameters" object.
func parseToolSpecs(tools gjson.Result) []ToolSpec {
	if !tools.IsArray() {
		return nil
	}
	arr := tools.Array()
	out := make([]ToolSpec, 0, len(arr))
	for _, t := range arr {
		spec := ToolSpec{Type: t.Get("type").String()}
		spec.Function.Name = t.Get("function.name").String()
		spec.Function.Description = t.Get("function.description").String()
		if params := t.Get("function.parameters"); params.Exists() {
			spec.Function.Parameters = params.Value()
		}
		out = append(out, spec)
	}
	return out
}

// prependSystemMessage implements rule 4: the synthesized prompt becomes
// the first message of role system; any pre-existing system messages are
// preserved immediately after it, order otherwise unchanged.
func prependSystemMessage(rawMessages []string, systemPrompt string) []string {
	synthesized, err := sjson.Set(`{}`, "role", "system")
	if err == nil {
		synthesized, err = sjson.Set(synthesized, "content", systemPrompt)
	}
	if err != nil {
		synthesized = `{"role":"system","content":""}`
	}
	out := make([]string, 0, len(rawMessages)+1)
	out = append(out, synthesized)
	out = append(out, rawMessages...)
	return out
}

// annotateToolResults implements rule 5: each tool message is re-presented
// with a prefix naming the call it answers, found by looking back through
// prior assistant turns for a matching tool_call id.
func annotateToolResults(rawMessages []string) []string {
	type callInfo struct {
		name string
		args string
	}
	calls := map[string]callInfo{}

	for _, raw := range rawMessages {
		msg := gjson.Parse(raw)
		if msg.Get("role").String() != "assistant" {
			continue
		}
		for _, tc := range msg.Get("tool_calls").Array() {
			id := tc.Get("id").String()
			if id == "" {
				continue
			}
			calls[id] = callInfo{
				name: tc.Get("function.name").String(),
				args: tc.Get("function.arguments").String(),
			}
		}
	}

	out := make([]string, len(rawMessages))
	for i, raw := range rawMessages {
		msg := gjson.Parse(raw)
		if msg.Get("role").String() != "tool" {
			out[i] = raw
			continue
		}
		info, ok := calls[msg.Get("tool_call_id").String()]
		if !ok {
			out[i] = raw
			continue
		}
		prefix := fmt.Sprintf("[result of calling %s(%s)]\n", info.name, info.args)
		updated, err := sjson.Set(raw, "content", prefix+msg.Get("content").String())
		if err != nil {
			out[i] = raw
			continue
		}
		out[i] = updated
	}
	return out
}

// renderSystemPrompt fills the {tools_list} and {trigger_signal}
// placeholders in template, implementing rule 4's enumeration contract.
func renderSystemPrompt(template string, tools []ToolSpec, trigger string) string {
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Function.Name, t.Function.Description)
		if t.Function.Parameters != nil {
			if params, err := sjson.Set(`{}`, "x", t.Function.Parameters); err == nil {
				fmt.Fprintf(&b, "  parameters: %s\n", gjson.Get(params, "x").Raw)
			}
		}
	}
	out := strings.ReplaceAll(template, "{tools_list}", strings.TrimRight(b.String(), "\n"))
	out = strings.ReplaceAll(out, "{trigger_signal}", trigger)
	return out
}
