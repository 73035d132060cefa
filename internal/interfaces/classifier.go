package interfaces

import (
	"context"

	"wsb-sentiment/internal/types"
)

// Classifier labels the sentiment of a post's text.
//
// Implementations report throttling, transient failures and unparseable
// responses through the sentinel errors in package llm; any other error is
// treated as a systemic failure by the labeling pipeline.
type Classifier interface {
	Classify(ctx context.Context, text string) (types.Label, error)
}
