// Package classify defines the classifier contract shared by every scoring
// strategy, plus the built-in keyword strategy.
package classify

import (
	"context"
	"errors"
	"fmt"

	"PatentTriage/internal/domain"
)

// ErrFailure marks a classification that produced no usable outcome:
// timeout, malformed structured output or a strategy fault.
var ErrFailure = errors.New("classification failed")

// Outcome is the verdict for one document.
type Outcome struct {
	Relevance domain.Relevance `json:"relevance"`
	Tags      []string         `json:"tags"`
}

// Classifier produces relevance and tags for a title and abstract.
type Classifier interface {
	ID() string
	Classify(ctx context.Context, title, abstract string, rules TagRules) (Outcome, error)
}

// Failure wraps err so that errors.Is(err, ErrFailure) holds.
func Failure(classifierID string, err error) error {
	if err == nil || errors.Is(err, ErrFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", classifierID, ErrFailure, err)
}
