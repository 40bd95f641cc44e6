package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/duplexai/duplex/internal/tokens"
	"github.com/duplexai/duplex/internal/types"
)

// HTTPError is a non-2xx upstream response with the body captured for
// classification. Providers disagree about status codes, so the body text
// carries most of the signal.
type HTTPError struct {
	Status int
	Reason string
	Body   string
}

func (e *HTTPError) Error() string {
	s := fmt.Sprintf("upstream error: %d", e.Status)
	if e.Reason != "" {
		s += " " + e.Reason
	}
	if e.Body != "" {
		s += ": " + e.Body
	}
	return s
}

// isProtocolUnsupported reports whether the upstream rejected the items
// endpoint itself rather than the request, which is the signal to fall back
// to the chat protocol. Gateways variously answer 404, 405, or 501; some
// return 200-family errors with a telltale body.
func isProtocolUnsupported(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	// A continuation complaint is about the request, not the endpoint,
	// even when the status or body overlaps with the markers below.
	if isContinuationUnsupported(err) {
		return false
	}
	switch he.Status {
	case 404, 405, 501:
		return true
	}
	lower := strings.ToLower(he.Body)
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "not supported") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unknown endpoint")
}

// isContinuationUnsupported reports whether the upstream accepted the
// endpoint but rejected server-side state, typically by complaining about
// previous_response_id or the store flag. Such requests succeed when
// replayed statelessly with full history.
func isContinuationUnsupported(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	lower := strings.ToLower(he.Body)
	return strings.Contains(lower, "previous_response_id") ||
		strings.Contains(lower, "previous response") ||
		strings.Contains(lower, "response not found") ||
		(strings.Contains(lower, "store") && strings.Contains(lower, "not supported"))
}

// ErrorType categorizes upstream errors for retry and user messaging.
type ErrorType string

const (
	ErrorTypeUnknown         ErrorType = "unknown"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeTimeout         ErrorType = "timeout"
)

// ClassifyError determines the error type from an error message, matching
// the phrasing of the major providers and the common local gateways.
func ClassifyError(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "context_length_exceeded"),
		strings.Contains(lower, "context length exceeded"),
		strings.Contains(lower, "maximum context length"),
		strings.Contains(lower, "context size has been exceeded"),
		strings.Contains(lower, "prompt is too long"),
		strings.Contains(lower, "request_too_large"):
		return ErrorTypeContextOverflow
	case strings.Contains(lower, "429"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "rate_limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "quota exceeded"):
		return ErrorTypeRateLimit
	case strings.Contains(lower, "overloaded"),
		strings.Contains(lower, "server is busy"),
		strings.Contains(lower, "temporarily unavailable"):
		return ErrorTypeOverloaded
	case strings.Contains(lower, "402"),
		strings.Contains(lower, "insufficient credits"),
		strings.Contains(lower, "insufficient_quota"),
		strings.Contains(lower, "credit balance"):
		return ErrorTypeBilling
	case strings.Contains(lower, "401"),
		strings.Contains(lower, "403"),
		strings.Contains(lower, "invalid api key"),
		strings.Contains(lower, "incorrect api key"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "authentication"):
		return ErrorTypeAuth
	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "connection reset"):
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

// FormatErrorForUser returns a user-facing message for an error type.
func FormatErrorForUser(msg string, errType ErrorType) string {
	switch errType {
	case ErrorTypeContextOverflow:
		return "Context overflow: the conversation is too large for the model."
	case ErrorTypeRateLimit:
		return "Rate limited - too many requests. Please wait a moment and try again."
	case ErrorTypeOverloaded:
		return "The service is temporarily overloaded. Please try again in a moment."
	case ErrorTypeAuth:
		return "Authentication failed. Check your API key configuration."
	case ErrorTypeBilling:
		return "Billing issue with the provider. Check your account credits/plan."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	default:
		return fmt.Sprintf("LLM error: %s", msg)
	}
}

// maxDeclaredTools is the hard ceiling on tool declarations per request,
// matching the OpenAI-compatible gateways' own limit.
const maxDeclaredTools = 128

// validateRequest rejects requests that are certain to fail upstream, before
// any bytes go out: too many declared tools, or an estimated prompt that
// cannot fit the model's context window.
func validateRequest(cfg *ModelConfig, messages []types.Message, opts *GenOptions) error {
	if opts != nil && len(opts.Tools) > maxDeclaredTools {
		return fmt.Errorf("too many tools declared: %d exceeds the limit of %d", len(opts.Tools), maxDeclaredTools)
	}

	est := tokens.Get()
	total := 0
	for _, m := range messages {
		total += est.Count(m.Text())
	}
	if cfg.Instructions != "" {
		total += est.Count(cfg.Instructions)
	}
	if !tokens.FitsBudget(total, cfg.ContextWindow()) {
		return fmt.Errorf("estimated prompt of ~%d tokens exceeds the %d-token context window of %s",
			total, cfg.ContextWindow(), cfg.ID)
	}
	return nil
}
