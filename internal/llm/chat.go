// Package llm - chat-protocol request building
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/duplexai/duplex/internal/types"
	. "github.com/duplexai/duplex/internal/logging"
)

// buildChatRequest converts the conversation into a chat-protocol wire
// request. Pure: no network I/O, no state beyond per-call scratch.
func buildChatRequest(cfg *ModelConfig, messages []types.Message, opts *GenOptions) (string, *openai.ChatCompletionRequest) {
	req := &openai.ChatCompletionRequest{
		Model:     cfg.ID,
		MaxTokens: cfg.maxOutputTokens(opts),
		Messages:  convertChatMessages(cfg, messages),
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true, // Get token counts in stream
		},
	}

	if cfg.Instructions != "" {
		lead := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.Instructions,
		}
		if !cfg.SupportsSystemRole {
			lead.Role = openai.ChatMessageRoleUser
			lead.Content = systemDowngradePrefix + cfg.Instructions
		}
		req.Messages = append([]openai.ChatCompletionMessage{lead}, req.Messages...)
	}

	if opts != nil {
		if opts.Temperature != nil {
			req.Temperature = *opts.Temperature
		}
		if len(opts.StopSequences) > 0 {
			req.Stop = opts.StopSequences
		}
		if opts.PresencePenalty != nil {
			req.PresencePenalty = *opts.PresencePenalty
		}
		if opts.FrequencyPenalty != nil {
			req.FrequencyPenalty = *opts.FrequencyPenalty
		}
		if opts.LogProbs {
			req.LogProbs = true
			if opts.TopLogProbs > 0 {
				req.TopLogProbs = opts.TopLogProbs
			}
		}
		req.Tools = convertChatTools(opts.Tools)
		req.ToolChoice = chatToolChoice(pick(opts.ToolChoice, cfg.ToolChoice))
	} else {
		req.ToolChoice = chatToolChoice(cfg.ToolChoice)
	}

	return chatEndpoint(cfg.BaseURL), req
}

// chatToolChoice maps the neutral tool-choice mode to the wire value.
// "auto" and "none" pass through; any other non-empty value (optionally
// written "required:<name>") requires that tool.
func chatToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none":
		return choice
	default:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: requiredToolName(choice)},
		}
	}
}

// convertChatMessages flattens the part-based conversation into the chat
// protocol's role+content records. Continuation markers are internal
// pseudo-parts and never cross the wire.
func convertChatMessages(cfg *ModelConfig, messages []types.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			text := msg.Text()
			if text == "" {
				continue
			}
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: text,
			}
			if !cfg.SupportsSystemRole {
				out.Role = openai.ChatMessageRoleUser
				out.Content = systemDowngradePrefix + text
			}
			result = append(result, out)

		case types.RoleUser:
			result = append(result, convertChatUserMessage(msg))

		case types.RoleAssistant:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var sb strings.Builder
			for _, p := range msg.Parts {
				switch p.Type {
				case types.PartText:
					sb.WriteString(p.Text)
				case types.PartToolCall:
					out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
						ID:   callIDOrNew(p.ToolCallID),
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      p.ToolName,
							Arguments: argumentsJSON(p.ToolInput),
						},
					})
				}
				// Image parts are never attached to assistant messages.
			}
			out.Content = sb.String()
			if out.Content == "" && len(out.ToolCalls) == 0 {
				continue
			}
			result = append(result, out)

		case types.RoleTool:
			for _, p := range msg.Parts {
				if p.Type != types.PartToolResult {
					continue
				}
				content, images := splitToolResult(p.Result)
				if content == "" {
					content = "(no output)"
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: p.ToolCallID,
				})
				// The tool role cannot carry images; re-home each one on a
				// trailing user message so the model still sees it.
				for _, img := range images {
					result = append(result, openai.ChatCompletionMessage{
						Role: openai.ChatMessageRoleUser,
						MultiContent: []openai.ChatMessagePart{
							{Type: openai.ChatMessagePartTypeText, Text: toolImageNote},
							{
								Type: openai.ChatMessagePartTypeImageURL,
								ImageURL: &openai.ChatMessageImageURL{
									URL:    dataURL(img.MimeType, img.Data),
									Detail: openai.ImageURLDetailAuto,
								},
							},
						},
					})
				}
			}

		default:
			L_warn("llm: unknown message role, skipping", "role", msg.Role)
		}
	}

	return result
}

func convertChatUserMessage(msg types.Message) openai.ChatCompletionMessage {
	var text strings.Builder
	var images []types.Part
	for _, p := range msg.Parts {
		switch {
		case p.Type == types.PartText:
			text.WriteString(p.Text)
		case p.IsImage():
			images = append(images, p)
		}
	}

	if len(images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text.String(),
		}
	}

	var parts []openai.ChatMessagePart
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img.MimeType, img.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	if text.Len() > 0 {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text.String(),
		})
	}
	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

// convertChatTools converts tool declarations to the wire's function-tool array.
func convertChatTools(toolDefs []types.ToolDefinition) []openai.Tool {
	if len(toolDefs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(toolDefs))
	for i, td := range toolDefs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.InputSchema,
			},
		}
	}
	return result
}

// splitToolResult separates a tool result's sub-parts into concatenated text
// and the image parts that need separate handling.
func splitToolResult(parts []types.Part) (string, []types.Part) {
	var sb strings.Builder
	var images []types.Part
	for _, p := range parts {
		switch {
		case p.Type == types.PartText:
			sb.WriteString(p.Text)
		case p.IsImage():
			images = append(images, p)
		}
	}
	return sb.String(), images
}

// argumentsJSON returns the input as a JSON object string, defaulting to an
// empty object when the input is missing or not valid JSON.
func argumentsJSON(input json.RawMessage) string {
	if len(input) == 0 || !json.Valid(input) {
		return "{}"
	}
	return string(input)
}

func dataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Encode(data))
}
