package types

import (
	"encoding/json"
	"testing"
)

func TestMessageText(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			TextPart("first "),
			DataPart("application/octet-stream", []byte{1}),
			ToolCallPart("call_1", "f", json.RawMessage(`{}`)),
			TextPart("second"),
		},
	}
	if got := msg.Text(); got != "first second" {
		t.Errorf("Text() = %q", got)
	}
}

func TestPartIsImage(t *testing.T) {
	tests := []struct {
		name string
		part Part
		want bool
	}{
		{"png", DataPart("image/png", []byte{1}), true},
		{"jpeg", DataPart("image/jpeg", []byte{1}), true},
		{"non-image data", DataPart("application/pdf", []byte{1}), false},
		{"text part", TextPart("image/png"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.part.IsImage(); got != tt.want {
				t.Errorf("IsImage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPartJSONOmitsUnusedFields(t *testing.T) {
	data, err := json.Marshal(TextPart("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"text","text":"hi"}` {
		t.Errorf("marshaled = %s", data)
	}
}
