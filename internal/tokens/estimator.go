// Package tokens estimates how many LLM tokens a prompt will consume, so
// admission checks can run before the completion call is made.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// responseHeadroom is added to every prompt estimate to cover the model's
// reply, which the caller cannot size up front.
const responseHeadroom = 500

// Estimator counts tokens with the model's tiktoken encoding.
type Estimator struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
}

// NewEstimator creates an Estimator for the given model, falling back to the
// cl100k_base encoding when the model is unknown.
func NewEstimator(model string) (*Estimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("loading token encoding: %w", err)
		}
	}
	return &Estimator{encoding: enc}, nil
}

// Count returns the exact token count of text under the loaded encoding.
func (e *Estimator) Count(text string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// EstimateRequest returns the units to request from the quota tracker for a
// prompt: its token count plus response headroom.
func (e *Estimator) EstimateRequest(prompt string) int {
	return e.Count(prompt) + responseHeadroom
}
