// Package tokens provides token estimation utilities using tiktoken.
package tokens

import (
	"sync"

	. "github.com/duplexai/duplex/internal/logging"
	"github.com/pkoukk/tiktoken-go"
)

// Estimator provides token estimation using tiktoken
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

// DefaultEncoding is cl100k_base, a reasonable approximation across
// OpenAI-compatible backends.
const DefaultEncoding = "cl100k_base"

var (
	globalEstimator     *Estimator
	globalEstimatorOnce sync.Once
)

// Get returns the global token estimator (singleton)
func Get() *Estimator {
	globalEstimatorOnce.Do(func() {
		var err error
		globalEstimator, err = New()
		if err != nil {
			L_warn("tokens: failed to create estimator, using fallback", "error", err)
			globalEstimator = &Estimator{} // fallback to char-based estimation
		}
	})
	return globalEstimator
}

// New creates a new token estimator
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the token count for a string.
// Falls back to chars/4 if tiktoken unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	toks := e.encoding.Encode(text, nil, nil)
	return len(toks)
}

// Estimate is a convenience function using the global estimator.
func Estimate(text string) int {
	return Get().Count(text)
}

// SafetyMargin accounts for tokenizer inaccuracies across different models.
// cl100k_base may undercount tokens for non-OpenAI models.
const SafetyMargin = 1.2

// FitsBudget reports whether an estimated input size, widened by the safety
// margin, fits inside the model's context window. A zero context window means
// the budget is unknown and the check passes.
func FitsBudget(estimatedInput, contextWindow int) bool {
	if contextWindow <= 0 {
		return true
	}
	return int(float64(estimatedInput)*SafetyMargin) <= contextWindow
}
