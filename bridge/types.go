package bridge

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ChatMessage mirrors a single OpenAI chat message. Content is kept as raw
// JSON rather than a Go string because upstream clients may send either a
// plain string or a content-part array; ContentText extracts the former
// from the latter when needed.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a single function invocation as rendered back to the
// client in OpenAI's tool_calls shape.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds a tool call's name and its arguments, JSON-encoded
// as a string per the OpenAI wire format (never a nested object).
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec is a single entry from the client's request "tools" array.
type ToolSpec struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes one callable function's name, description, and
// JSON Schema parameters, exactly as the client supplied them.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ContentText flattens a ChatMessage's Content field to plain text,
// handling both the plain-string shape and the content-part-array shape
// (role="user", content=[{"type":"text","text":"..."}]).
func ContentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	}
	// Content arrived via encoding/json as []any/map[string]any, or the
	// caller already has raw bytes; normalize through gjson either way.
	return contentTextFromParts(content)
}

func contentTextFromParts(content any) string {
	parts, ok := content.([]any)
	if !ok {
		return ""
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "text" {
			continue
		}
		if txt, _ := m["text"].(string); strings.TrimSpace(txt) != "" {
			out = append(out, strings.TrimSpace(txt))
		}
	}
	return strings.Join(out, "\n")
}

// ContentTextFromJSON is the same flattening as ContentText but operates
// directly on a message's raw content value inside a larger JSON document,
// via gjson, avoiding a full unmarshal of the request body.
func ContentTextFromJSON(content gjson.Result) string {
	if !content.Exists() {
		return ""
	}
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		parts := make([]string, 0, len(content.Array()))
		for _, part := range content.Array() {
			if strings.TrimSpace(part.Get("type").String()) != "text" {
				continue
			}
			txt := strings.TrimSpace(part.Get("text").String())
			if txt != "" {
				parts = append(parts, txt)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
