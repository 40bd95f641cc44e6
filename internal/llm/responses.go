// Package llm - items-protocol request building and wire types
package llm

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/duplexai/duplex/internal/types"
	. "github.com/duplexai/duplex/internal/logging"
)

// systemDowngradePrefix marks system text re-sent under the user role for
// models that reject the system role.
const systemDowngradePrefix = "[System]: "

// toolImageNote explains why an image shows up detached from its tool result.
const toolImageNote = "Image returned by the preceding tool call:"

// =============================================================================
// Request Types
// =============================================================================

// responsesRequest is the items-protocol request body.
// Flat structs with omitempty keep unused fields off the wire.
type responsesRequest struct {
	Model              string             `json:"model"`
	Input              []responseItem     `json:"input,omitempty"`
	Tools              []responseTool     `json:"tools,omitempty"`
	ToolChoice         any                `json:"tool_choice,omitempty"`
	ParallelToolCalls  *bool              `json:"parallel_tool_calls,omitempty"`
	MaxOutputTokens    int                `json:"max_output_tokens,omitempty"`
	Temperature        *float32           `json:"temperature,omitempty"`
	TopLogprobs        int                `json:"top_logprobs,omitempty"`
	Truncation         string             `json:"truncation,omitempty"`
	PreviousResponseID string             `json:"previous_response_id,omitempty"`
	Reasoning          *responseReasoning `json:"reasoning,omitempty"`
	Text               *responseTextOpts  `json:"text,omitempty"`
	Store              *bool              `json:"store,omitempty"`
	Stream             bool               `json:"stream"`
}

type responseReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type responseTextOpts struct {
	Verbosity string `json:"verbosity,omitempty"`
}

// responseItem represents one input item (message, function_call,
// function_call_output). Type is the discriminator.
type responseItem struct {
	Type      string            `json:"type"`
	Role      string            `json:"role,omitempty"`
	Content   []responseContent `json:"content,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Arguments string            `json:"arguments,omitempty"`
	Output    string            `json:"output,omitempty"`
}

// responseContent is a content block within a message item.
type responseContent struct {
	Type     string `json:"type"` // "input_text", "output_text", "input_image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// responseTool is a tool declaration in the tools array.
type responseTool struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

const (
	itemTypeMessage            = "message"
	itemTypeFunctionCall       = "function_call"
	itemTypeFunctionCallOutput = "function_call_output"

	contentInputText  = "input_text"
	contentOutputText = "output_text"
	contentInputImage = "input_image"
)

// =============================================================================
// Request Building
// =============================================================================

// buildResponsesRequest converts the conversation into an items-protocol wire
// request. When stateful continuation is enabled and the conversation carries
// a continuation marker for this model, only messages after the marker are
// resent and the embedded id becomes the previous_response_id parameter.
func buildResponsesRequest(cfg *ModelConfig, messages []types.Message, opts *GenOptions) (string, *responsesRequest) {
	req := &responsesRequest{
		Model:           cfg.ID,
		MaxOutputTokens: cfg.maxOutputTokens(opts),
		Stream:          true,
	}

	send := messages
	if cfg.StatefulContinuation {
		store := true
		req.Store = &store
		if prevID, after := findContinuation(cfg.ID, messages); prevID != "" {
			req.PreviousResponseID = prevID
			send = after
			L_debug("llm: incremental request",
				"previousResponseID", prevID,
				"resending", len(after),
				"elided", len(messages)-len(after),
			)
		}
	}

	// Instructions lead the input; truncated histories already carry their
	// instructions server-side via the previous response.
	if cfg.Instructions != "" && req.PreviousResponseID == "" {
		req.Input = append(req.Input, systemMessageItem(cfg, cfg.Instructions))
	}

	for _, msg := range send {
		req.Input = append(req.Input, convertResponsesMessage(cfg, msg)...)
	}

	applyResponsesOptions(cfg, req, opts)

	return responsesEndpoint(cfg.BaseURL), req
}

func applyResponsesOptions(cfg *ModelConfig, req *responsesRequest, opts *GenOptions) {
	var o GenOptions
	if opts != nil {
		o = *opts
	}

	if o.Temperature != nil {
		req.Temperature = o.Temperature
	}
	if o.LogProbs && o.TopLogProbs > 0 {
		req.TopLogprobs = o.TopLogProbs
	}

	if effort, summary := pick(o.ReasoningEffort, cfg.ReasoningEffort), pick(o.ReasoningSummary, cfg.ReasoningSummary); effort != "" || summary != "" {
		req.Reasoning = &responseReasoning{Effort: effort, Summary: summary}
	}
	if truncation := pick(o.Truncation, cfg.Truncation); truncation != "" {
		req.Truncation = truncation
	}
	if verbosity := pick(o.Verbosity, cfg.Verbosity); verbosity != "" {
		req.Text = &responseTextOpts{Verbosity: verbosity}
	}

	if o.ParallelToolCalls != nil {
		req.ParallelToolCalls = o.ParallelToolCalls
	} else if cfg.ParallelToolCalls != nil {
		req.ParallelToolCalls = cfg.ParallelToolCalls
	}

	for _, td := range o.Tools {
		req.Tools = append(req.Tools, responseTool{
			Type:        "function",
			Name:        td.Name,
			Description: td.Description,
			Parameters:  td.InputSchema,
		})
	}
	req.ToolChoice = responsesToolChoice(pick(o.ToolChoice, cfg.ToolChoice))
}

// responsesToolChoice maps the neutral tool-choice mode to the wire value.
func responsesToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none":
		return choice
	default:
		return map[string]string{"type": "function", "name": requiredToolName(choice)}
	}
}

// requiredToolName strips the optional "required:" prefix from a forced
// tool-choice value.
func requiredToolName(choice string) string {
	return strings.TrimPrefix(choice, "required:")
}

// =============================================================================
// Message Conversion
// =============================================================================

func convertResponsesMessage(cfg *ModelConfig, msg types.Message) []responseItem {
	switch msg.Role {
	case types.RoleSystem:
		text := msg.Text()
		if text == "" {
			return nil
		}
		return []responseItem{systemMessageItem(cfg, text)}
	case types.RoleUser:
		return convertResponsesUserMessage(msg)
	case types.RoleAssistant:
		return convertResponsesAssistantMessage(msg)
	case types.RoleTool:
		return convertResponsesToolMessage(msg)
	default:
		L_warn("llm: unknown message role, skipping", "role", msg.Role)
		return nil
	}
}

// systemMessageItem builds a system message item, downgrading the role to
// user with a visible marker when the model rejects the system role.
func systemMessageItem(cfg *ModelConfig, text string) responseItem {
	role := "system"
	if !cfg.SupportsSystemRole {
		role = "user"
		text = systemDowngradePrefix + text
	}
	return responseItem{
		Type:    itemTypeMessage,
		Role:    role,
		Content: []responseContent{{Type: contentInputText, Text: text}},
	}
}

func convertResponsesUserMessage(msg types.Message) []responseItem {
	var parts []responseContent
	var text string
	for _, p := range msg.Parts {
		switch {
		case p.Type == types.PartText:
			text += p.Text
		case p.IsImage():
			parts = append(parts, responseContent{
				Type:     contentInputImage,
				ImageURL: dataURL(p.MimeType, p.Data),
			})
		}
	}
	if text != "" {
		parts = append([]responseContent{{Type: contentInputText, Text: text}}, parts...)
	}
	if len(parts) == 0 {
		return nil
	}
	return []responseItem{{Type: itemTypeMessage, Role: "user", Content: parts}}
}

func convertResponsesAssistantMessage(msg types.Message) []responseItem {
	var items []responseItem
	var text string
	for _, p := range msg.Parts {
		switch p.Type {
		case types.PartText:
			text += p.Text
		case types.PartToolCall:
			items = append(items, responseItem{
				Type:      itemTypeFunctionCall,
				CallID:    callIDOrNew(p.ToolCallID),
				Name:      p.ToolName,
				Arguments: argumentsJSON(p.ToolInput),
			})
		}
		// Images are never attached to assistant-authored messages; data
		// parts here are internal markers (continuation) and stay local.
	}
	if text != "" {
		// Assistant-authored text uses the protocol's output tag.
		items = append([]responseItem{{
			Type:    itemTypeMessage,
			Role:    "assistant",
			Content: []responseContent{{Type: contentOutputText, Text: text}},
		}}, items...)
	}
	return items
}

func convertResponsesToolMessage(msg types.Message) []responseItem {
	var items []responseItem
	for _, p := range msg.Parts {
		if p.Type != types.PartToolResult {
			continue
		}
		if p.ToolCallID == "" {
			L_warn("llm: tool result with empty call id, skipping")
			continue
		}
		output, images := splitToolResult(p.Result)
		items = append(items, responseItem{
			Type:   itemTypeFunctionCallOutput,
			CallID: p.ToolCallID,
			Output: output,
		})
		// function_call_output cannot express images; each one is re-sent as
		// a separate trailing user message item. Deliberate workaround, not
		// an error path.
		for _, img := range images {
			items = append(items, responseItem{
				Type: itemTypeMessage,
				Role: "user",
				Content: []responseContent{
					{Type: contentInputText, Text: toolImageNote},
					{Type: contentInputImage, ImageURL: dataURL(img.MimeType, img.Data)},
				},
			})
		}
	}
	return items
}

// callIDOrNew returns the given call id, generating one when absent.
func callIDOrNew(id string) string {
	if id != "" {
		return id
	}
	return "call_" + uuid.NewString()
}

func base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// canonicalJSON re-marshals a JSON document into its canonical form
// (sorted object keys, no insignificant whitespace). Returns the input
// unchanged when it does not parse.
func canonicalJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return string(out)
}
