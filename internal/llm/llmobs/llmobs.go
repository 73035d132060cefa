package llmobs

import (
	"context"
	"errors"
	"time"

	"wsb-sentiment/internal/interfaces"
	"wsb-sentiment/internal/llm"
	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/trace"
	"wsb-sentiment/internal/types"
)

// observableClassifier wraps a Classifier with logging and tracing
type observableClassifier struct {
	classifier interfaces.Classifier
	provider   string
}

// Compile-time interface check
var _ interfaces.Classifier = (*observableClassifier)(nil)

// Wrap wraps a classifier with observability middleware
func Wrap(classifier interfaces.Classifier, provider string) interfaces.Classifier {
	return &observableClassifier{classifier: classifier, provider: provider}
}

func (oc *observableClassifier) Classify(ctx context.Context, text string) (types.Label, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Classify")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Requesting sentiment label",
		"provider", oc.provider,
		"chars", len(text),
	)

	start := time.Now()
	label, err := oc.classifier.Classify(ctx, text)
	elapsed := time.Since(start)
	if err != nil {
		// Expected provider hiccups are handled upstream; keep them at warn.
		if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrTransient) || errors.Is(err, llm.ErrMalformed) {
			logger.WarnSkip(ctx, 1, "Sentiment request failed",
				"provider", oc.provider,
				"error", err.Error(),
				"duration_ms", elapsed.Milliseconds(),
			)
		} else {
			logger.ErrorWithErrSkip(ctx, 1, "Sentiment request failed", err,
				"provider", oc.provider,
				"duration_ms", elapsed.Milliseconds(),
			)
		}
		return types.Label{}, err
	}

	logger.DebugSkip(ctx, 1, "Sentiment label received",
		"provider", oc.provider,
		"sentiment", label.Sentiment,
		"reason", label.Reason,
		"duration_ms", elapsed.Milliseconds(),
	)
	return label, nil
}
