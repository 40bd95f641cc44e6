package llm

import "strings"

// Protocol resource paths under the versioned prefix.
const (
	chatResource      = "chat/completions"
	responsesResource = "responses"
)

// endpointURL normalizes a configured base URL so it ends with the protocol's
// resource path. The base may already end in the versioned prefix ("/v1"),
// already end in the resource path, or neither.
func endpointURL(baseURL, resource string) string {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/"+resource) {
		return base
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/" + resource
	}
	return base + "/v1/" + resource
}

func chatEndpoint(baseURL string) string      { return endpointURL(baseURL, chatResource) }
func responsesEndpoint(baseURL string) string { return endpointURL(baseURL, responsesResource) }
