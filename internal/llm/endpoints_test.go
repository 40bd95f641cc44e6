package llm

import "testing"

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		resource string
		want     string
	}{
		// Defaults
		{"empty base chat", "", chatResource, "https://api.openai.com/v1/chat/completions"},
		{"empty base responses", "", responsesResource, "https://api.openai.com/v1/responses"},

		// Versioned prefix already present
		{"v1 suffix", "https://api.openai.com/v1", chatResource, "https://api.openai.com/v1/chat/completions"},
		{"v1 trailing slash", "http://localhost:1234/v1/", chatResource, "http://localhost:1234/v1/chat/completions"},

		// Full resource path already present
		{"full chat path", "http://localhost:1234/v1/chat/completions", chatResource, "http://localhost:1234/v1/chat/completions"},
		{"full responses path", "https://example.com/v1/responses", responsesResource, "https://example.com/v1/responses"},

		// Bare hosts get the versioned prefix inserted
		{"bare host", "https://example.com", chatResource, "https://example.com/v1/chat/completions"},
		{"bare host with port", "http://10.0.0.5:8080", responsesResource, "http://10.0.0.5:8080/v1/responses"},

		// Whitespace tolerated
		{"padded", "  https://example.com/v1  ", chatResource, "https://example.com/v1/chat/completions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := endpointURL(tt.base, tt.resource)
			if got != tt.want {
				t.Errorf("endpointURL(%q, %q) = %q, want %q", tt.base, tt.resource, got, tt.want)
			}
		})
	}
}

func TestEndpointHelpers(t *testing.T) {
	if got := chatEndpoint("https://example.com/v1"); got != "https://example.com/v1/chat/completions" {
		t.Errorf("chatEndpoint = %q", got)
	}
	if got := responsesEndpoint("https://example.com/v1"); got != "https://example.com/v1/responses" {
		t.Errorf("responsesEndpoint = %q", got)
	}
}
