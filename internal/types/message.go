// Package types contains the protocol-neutral conversation model shared
// between the host surface and the wire adapters. Keeping these types in
// their own package avoids import cycles between llm and callers.
package types

import (
	"encoding/json"
	"strings"
)

// Part type discriminators.
const (
	PartText       = "text"
	PartData       = "data"
	PartToolCall   = "tool_call"
	PartToolResult = "tool_result"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part is a single typed unit of message content. Type selects which fields
// are meaningful; unused fields stay zero and are omitted from JSON.
type Part struct {
	Type string `json:"type"`

	// Text content
	Text string `json:"text,omitempty"`

	// Binary data with a mime type. Used for images and for opaque internal
	// markers such as the continuation marker.
	MimeType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`

	// Tool call / tool result pairing
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`

	// Tool result sub-parts (text and data only)
	Result []Part `json:"result,omitempty"`
}

// Message is one conversation entry: a role plus ordered content parts.
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// ToolDefinition declares a callable function the model may invoke.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// TextPart creates a plain text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// DataPart creates a binary part with a mime type.
func DataPart(mimeType string, data []byte) Part {
	return Part{Type: PartData, MimeType: mimeType, Data: data}
}

// ToolCallPart creates an assistant-authored tool invocation part.
func ToolCallPart(id, name string, input json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, ToolInput: input}
}

// ToolResultPart creates a tool result part with ordered sub-parts.
func ToolResultPart(id string, result []Part) Part {
	return Part{Type: PartToolResult, ToolCallID: id, Result: result}
}

// UserText creates a single-part user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// AssistantText creates a single-part assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// Text returns all text parts of the message concatenated in order.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// IsImage reports whether a data part carries image content.
func (p *Part) IsImage() bool {
	return p.Type == PartData && strings.HasPrefix(p.MimeType, "image/")
}
