// Package llm - model configuration types
package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"

	. "github.com/duplexai/duplex/internal/logging"
	"github.com/duplexai/duplex/internal/types"
)

// Protocol selects the upstream wire format.
type Protocol string

const (
	// ProtocolChat is the flat messages-array request/response format.
	ProtocolChat Protocol = "chat"
	// ProtocolResponses is the ordered-items request/response format.
	ProtocolResponses Protocol = "responses"
)

// DefaultMaxOutputTokens is used when neither config nor request set a limit.
const DefaultMaxOutputTokens = 8192

// ModelConfig describes one model endpoint. It is immutable per request with
// one exception: StatefulContinuation may be flipped false at runtime (see
// DisableContinuation) after an upstream rejection. That flag is the only
// state that outlives a single turn.
type ModelConfig struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	BaseURL     string `json:"baseURL"`
	APIKey      string `json:"apiKey,omitempty"`

	MaxTokens     int `json:"maxTokens,omitempty"`     // Output limit
	ContextTokens int `json:"contextTokens,omitempty"` // Context window override (0 = auto-detect)

	Protocol Protocol `json:"protocol,omitempty"` // Default: chat

	// Items-protocol options, each independently optional
	Instructions      string `json:"instructions,omitempty"`
	ReasoningEffort   string `json:"reasoningEffort,omitempty"`  // "minimal", "low", "medium", "high"
	ReasoningSummary  string `json:"reasoningSummary,omitempty"` // "auto", "concise", "detailed"
	Truncation        string `json:"truncation,omitempty"`       // "auto", "disabled"
	Verbosity         string `json:"verbosity,omitempty"`        // "low", "medium", "high"
	ToolChoice        string `json:"toolChoice,omitempty"`       // "auto", "none", or a tool name
	ParallelToolCalls *bool  `json:"parallelToolCalls,omitempty"`

	// Capability flags
	SupportsSystemRole   bool `json:"supportsSystemRole"`
	StatefulContinuation bool `json:"statefulContinuation,omitempty"`
	FallbackToChat       bool `json:"fallbackToChat,omitempty"`

	ProxyURL     string            `json:"proxyURL,omitempty"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty"`
}

// DisableContinuation turns stateful continuation off for the remainder of
// the session. The transition is one-way; the flag is never re-enabled.
func (c *ModelConfig) DisableContinuation() {
	if c.StatefulContinuation {
		c.StatefulContinuation = false
		L_info("llm: stateful continuation disabled for model", "model", c.ID)
	}
}

// clone returns a shallow copy for per-attempt request building, so retries
// never observe concurrent flag mutation on the shared config.
func (c *ModelConfig) clone() *ModelConfig {
	cp := *c
	return &cp
}

// MaxOutputTokens returns the configured output limit or the default.
func (c *ModelConfig) MaxOutputTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxOutputTokens
}

// ContextWindow returns the model's context window size in tokens.
// Priority: config override, then hardcoded patterns, then a conservative
// default for unknown/local models.
func (c *ModelConfig) ContextWindow() int {
	if c.ContextTokens > 0 {
		return c.ContextTokens
	}
	return modelContextWindow(c.ID)
}

// modelContextWindow returns the context window size for a given model name.
func modelContextWindow(model string) int {
	model = strings.ToLower(model)

	if strings.Contains(model, "claude") {
		return 200000
	}
	if strings.Contains(model, "kimi-k2") {
		return 262144
	}
	if strings.Contains(model, "deepseek") {
		return 128000
	}
	if strings.Contains(model, "gpt-5") || strings.Contains(model, "gpt-4o") ||
		strings.Contains(model, "o3") || strings.Contains(model, "o4") {
		return 128000
	}
	if strings.Contains(model, "gpt-4") {
		if strings.Contains(model, "turbo") {
			return 128000
		}
		return 8192
	}
	if strings.Contains(model, "gpt-3.5") {
		return 16385
	}
	// Conservative limit for unknown/local models; use contextTokens to override
	return 4096
}

// GenOptions carries per-request generation options. Protocol-specific fields
// supplied here take precedence over the static ModelConfig values.
type GenOptions struct {
	MaxTokens        int
	Temperature      *float32
	StopSequences    []string
	PresencePenalty  *float32
	FrequencyPenalty *float32

	Tools []types.ToolDefinition
	// ToolChoice is "auto", "none", or a tool name to require exactly that tool.
	ToolChoice string

	LogProbs    bool
	TopLogProbs int

	// Items-protocol overrides
	ReasoningEffort   string
	ReasoningSummary  string
	Truncation        string
	Verbosity         string
	ParallelToolCalls *bool
}

// maxOutputTokens resolves the output limit for one request.
func (c *ModelConfig) maxOutputTokens(opts *GenOptions) int {
	if opts != nil && opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.MaxOutputTokens()
}

// pick returns the per-request override when set, otherwise the config value.
func pick(override, configured string) string {
	if override != "" {
		return override
	}
	return configured
}

// DefaultModelConfig returns the baseline configuration that file values
// are merged over. Boolean capability flags stay out of it: merging cannot
// tell an explicit false from an unset one.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Protocol: ProtocolChat,
	}
}

// LoadModelConfig reads a ModelConfig from a JSON file, filling unset fields
// from the defaults.
func LoadModelConfig(path string) (*ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if err := mergo.Merge(&cfg, *DefaultModelConfig()); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	return &cfg, nil
}
