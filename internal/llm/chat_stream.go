// Package llm - chat-protocol stream event parsing
package llm

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// SSE framing markers shared by both protocol parsers.
const (
	sseDataPrefix  = "data:"
	sseEventPrefix = "event:"
	sseDoneMarker  = "[DONE]"
)

// sseData extracts the payload of an SSE data line. ok is false for any line
// that is not data (comments, event markers, keep-alive blanks).
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, sseDataPrefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(sseDataPrefix):]), true
}

// chatParser decodes chat-protocol SSE lines into neutral stream events.
// The chat protocol addresses tool calls by explicit index, so the parser
// itself carries no per-connection state beyond captured usage.
type chatParser struct {
	usage *Usage
}

func newChatParser() *chatParser { return &chatParser{} }

// chatChunk is decoded leniently: reasoning arrives as a plain string from
// some backends and as an object from others.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string            `json:"content"`
			ReasoningContent json.RawMessage   `json:"reasoning_content"`
			Reasoning        json.RawMessage   `json:"reasoning"`
			ToolCalls        []openai.ToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ParseLine turns one decoded SSE line into zero or more neutral events.
// Parse failures yield skip; parsing never raises to the caller.
func (p *chatParser) ParseLine(line string) []StreamEvent {
	payload, ok := sseData(line)
	if !ok || payload == "" {
		return nil
	}
	if payload == sseDoneMarker {
		return []StreamEvent{doneEvent()}
	}

	var chunk chatChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return []StreamEvent{{Kind: EventSkip}}
	}

	if chunk.Usage != nil {
		p.usage = &Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
	}

	if len(chunk.Choices) == 0 {
		return []StreamEvent{{Kind: EventSkip}}
	}
	choice := chunk.Choices[0]

	var events []StreamEvent

	if thinking := reasoningText(choice.Delta.ReasoningContent, choice.Delta.Reasoning); thinking != "" {
		events = append(events, thinkingEvent(thinking))
	}
	if choice.Delta.Content != "" {
		events = append(events, textEvent(choice.Delta.Content))
	}
	for _, tc := range choice.Delta.ToolCalls {
		idx := 0
		if tc.Index != nil {
			idx = *tc.Index // upstream index is authoritative
		}
		events = append(events, StreamEvent{
			Kind:  EventToolCallDelta,
			Index: idx,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Args:  tc.Function.Arguments,
		})
	}
	if choice.FinishReason != "" {
		events = append(events, finishEvent(choice.FinishReason))
	}

	if len(events) == 0 {
		return []StreamEvent{{Kind: EventSkip}}
	}
	return events
}

// Usage returns token usage captured from the stream, or nil.
func (p *chatParser) Usage() *Usage { return p.usage }

// reasoningText tolerates both wire shapes for reasoning deltas: a plain
// JSON string or an object with a text field.
func reasoningText(raws ...json.RawMessage) string {
	for _, raw := range raws {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var obj struct {
			Text    string `json:"text"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &obj); err == nil {
			if obj.Text != "" {
				return obj.Text
			}
			return obj.Content
		}
	}
	return ""
}
