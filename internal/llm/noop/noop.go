package noop

import (
	"context"

	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/types"
)

// Classifier is used when no LLM provider is configured. It returns no
// label, so a run with it only extracts tickers.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(ctx context.Context, text string) (types.Label, error) {
	logger.Debug(ctx, "Noop classifier called - returning no label", "chars", len(text))
	return types.Label{}, nil
}
