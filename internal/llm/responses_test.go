package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/duplexai/duplex/internal/types"
)

func testModel() *ModelConfig {
	return &ModelConfig{
		ID:                 "test-model",
		BaseURL:            "http://localhost:9999/v1",
		SupportsSystemRole: true,
		Protocol:           ProtocolResponses,
	}
}

func TestBuildResponsesRequestBasics(t *testing.T) {
	cfg := testModel()
	cfg.Instructions = "be terse"

	endpoint, req := buildResponsesRequest(cfg, []types.Message{types.UserText("hi")}, nil)

	if endpoint != "http://localhost:9999/v1/responses" {
		t.Errorf("endpoint = %q", endpoint)
	}
	if !req.Stream || req.Model != "test-model" {
		t.Errorf("req = %+v", req)
	}
	if req.Store != nil {
		t.Errorf("store = %v, want unset when continuation is off", *req.Store)
	}
	if len(req.Input) != 2 {
		t.Fatalf("input = %+v", req.Input)
	}
	if req.Input[0].Role != "system" || req.Input[0].Content[0].Text != "be terse" {
		t.Errorf("instructions item = %+v", req.Input[0])
	}
	if req.Input[1].Role != "user" || req.Input[1].Content[0].Type != contentInputText {
		t.Errorf("user item = %+v", req.Input[1])
	}
}

func TestBuildResponsesRequestSystemDowngrade(t *testing.T) {
	cfg := testModel()
	cfg.SupportsSystemRole = false
	cfg.Instructions = "rules"

	_, req := buildResponsesRequest(cfg, []types.Message{types.UserText("hi")}, nil)
	lead := req.Input[0]
	if lead.Role != "user" || !strings.HasPrefix(lead.Content[0].Text, systemDowngradePrefix) {
		t.Errorf("downgraded item = %+v", lead)
	}
}

func TestBuildResponsesRequestContinuationTruncatesHistory(t *testing.T) {
	cfg := testModel()
	cfg.StatefulContinuation = true
	cfg.Instructions = "be terse"

	history := []types.Message{
		types.UserText("first"),
		markerMessage("test-model", "resp_9"),
		types.UserText("follow-up"),
	}
	_, req := buildResponsesRequest(cfg, history, nil)

	if req.PreviousResponseID != "resp_9" {
		t.Fatalf("previous_response_id = %q", req.PreviousResponseID)
	}
	if req.Store == nil || !*req.Store {
		t.Error("store must be requested when continuation is on")
	}
	// Only the follow-up goes out; instructions live server-side already.
	if len(req.Input) != 1 || req.Input[0].Content[0].Text != "follow-up" {
		t.Errorf("input = %+v", req.Input)
	}
}

func TestBuildResponsesRequestContinuationDisabledSendsAll(t *testing.T) {
	cfg := testModel()
	history := []types.Message{
		types.UserText("first"),
		markerMessage("test-model", "resp_9"),
		types.UserText("follow-up"),
	}
	_, req := buildResponsesRequest(cfg, history, nil)
	if req.PreviousResponseID != "" {
		t.Errorf("previous_response_id = %q, want empty", req.PreviousResponseID)
	}
	// first + assistant "ok" + follow-up; the marker part itself never
	// crosses the wire.
	if len(req.Input) != 3 {
		t.Fatalf("input = %+v", req.Input)
	}
	for _, item := range req.Input {
		for _, c := range item.Content {
			if strings.Contains(c.Text, `resp_9`) {
				t.Errorf("marker leaked onto the wire: %+v", item)
			}
		}
	}
}

func TestConvertResponsesAssistantToolCalls(t *testing.T) {
	msg := types.Message{
		Role: types.RoleAssistant,
		Parts: []types.Part{
			types.TextPart("calling now"),
			types.ToolCallPart("call_1", "lookup", json.RawMessage(`{"q":"go"}`)),
			types.ToolCallPart("", "second", nil),
		},
	}
	items := convertResponsesMessage(testModel(), msg)
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Type != itemTypeMessage || items[0].Content[0].Type != contentOutputText {
		t.Errorf("text item = %+v", items[0])
	}
	if items[1].Type != itemTypeFunctionCall || items[1].CallID != "call_1" || items[1].Arguments != `{"q":"go"}` {
		t.Errorf("call item = %+v", items[1])
	}
	// Missing ids and arguments are synthesized, never sent empty.
	if items[2].CallID == "" || items[2].Arguments != "{}" {
		t.Errorf("synthesized call item = %+v", items[2])
	}
}

func TestConvertResponsesToolResult(t *testing.T) {
	msg := types.Message{
		Role: types.RoleTool,
		Parts: []types.Part{
			types.ToolResultPart("call_1", []types.Part{
				types.TextPart("42 degrees"),
				types.DataPart("image/png", []byte{1, 2, 3}),
			}),
		},
	}
	items := convertResponsesMessage(testModel(), msg)
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Type != itemTypeFunctionCallOutput || items[0].CallID != "call_1" || items[0].Output != "42 degrees" {
		t.Errorf("output item = %+v", items[0])
	}
	// The image is re-homed on a trailing user message.
	img := items[1]
	if img.Type != itemTypeMessage || img.Role != "user" || img.Content[1].Type != contentInputImage {
		t.Errorf("image item = %+v", img)
	}
	if !strings.HasPrefix(img.Content[1].ImageURL, "data:image/png;base64,") {
		t.Errorf("image url = %q", img.Content[1].ImageURL)
	}
}

func TestResponsesToolChoice(t *testing.T) {
	if got := responsesToolChoice(""); got != nil {
		t.Errorf("empty = %v", got)
	}
	if got := responsesToolChoice("auto"); got != "auto" {
		t.Errorf("auto = %v", got)
	}
	forced, ok := responsesToolChoice("lookup").(map[string]string)
	if !ok || forced["name"] != "lookup" || forced["type"] != "function" {
		t.Errorf("forced = %v", forced)
	}
	prefixed, _ := responsesToolChoice("required:lookup").(map[string]string)
	if prefixed["name"] != "lookup" {
		t.Errorf("required: form = %v", prefixed)
	}
}

func TestApplyResponsesOptionsOverrides(t *testing.T) {
	cfg := testModel()
	cfg.ReasoningEffort = "low"
	cfg.Verbosity = "low"

	req := &responsesRequest{}
	applyResponsesOptions(cfg, req, &GenOptions{
		ReasoningEffort: "high",
		Tools: []types.ToolDefinition{
			{Name: "lookup", Description: "find things"},
		},
	})

	// Request-level override beats config, config fills the rest.
	if req.Reasoning == nil || req.Reasoning.Effort != "high" {
		t.Errorf("reasoning = %+v", req.Reasoning)
	}
	if req.Text == nil || req.Text.Verbosity != "low" {
		t.Errorf("text = %+v", req.Text)
	}
	if len(req.Tools) != 1 || req.Tools[0].Type != "function" || req.Tools[0].Name != "lookup" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorts keys", `{"b":2,"a":1}`, `{"a":1,"b":2}`},
		{"strips whitespace", `{ "a" : 1 }`, `{"a":1}`},
		{"invalid passes through", `{"a":`, `{"a":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := canonicalJSON(tt.in); got != tt.want {
				t.Errorf("canonicalJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
