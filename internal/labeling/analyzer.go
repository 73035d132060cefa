package labeling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wsb-sentiment/internal/interfaces"
	"wsb-sentiment/internal/llm"
	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/store"
	"wsb-sentiment/internal/types"
)

// ErrFatalClassifier wraps classifier failures that are not rate limits,
// transient faults or malformed replies. The pipeline stops on it without
// writing the chunk in progress.
var ErrFatalClassifier = errors.New("unexpected classifier failure")

// rateLimitedLabel is returned after a rate limit cooldown so the caller
// knows to retry once.
var rateLimitedLabel = types.Label{Sentiment: types.SentimentRateLimited, Reason: "Retrying after delay"}

// Analyzer turns classifier outcomes into labels, absorbing the expected
// failure modes.
type Analyzer struct {
	classifier   interfaces.Classifier
	maxChars     int
	cooldown     time.Duration
	onUnexpected string
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewAnalyzer(classifier interfaces.Classifier, cfg *store.Config) *Analyzer {
	return &Analyzer{
		classifier:   classifier,
		maxChars:     cfg.MaxChars,
		cooldown:     cfg.Classifier.RateLimitCooldown,
		onUnexpected: cfg.Classifier.OnUnexpected,
		sleep:        sleepCtx,
	}
}

// Analyze classifies text truncated to the configured length.
//
// A rate limit sleeps for the cooldown and returns the "Rate Limited"
// sentinel label. Transient and malformed failures return an empty label.
// Anything else is ErrFatalClassifier, or an empty label when the policy
// is to skip.
func (a *Analyzer) Analyze(ctx context.Context, text string) (types.Label, error) {
	label, err := a.classifier.Classify(ctx, llm.Truncate(text, a.maxChars))
	if err == nil {
		return label, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.Label{}, ctxErr
	}

	switch {
	case errors.Is(err, llm.ErrRateLimited):
		logger.Warn(ctx, "Rate limit hit, cooling down", "cooldown", a.cooldown.String())
		if err := a.sleep(ctx, a.cooldown); err != nil {
			return types.Label{}, err
		}
		return rateLimitedLabel, nil
	case errors.Is(err, llm.ErrTransient), errors.Is(err, llm.ErrMalformed):
		logger.Warn(ctx, "Classifier call failed, leaving row unlabeled", "error", err.Error())
		return types.Label{}, nil
	}

	if a.onUnexpected == store.OnUnexpectedSkip {
		logger.ErrorWithErr(ctx, "Unexpected classifier failure, leaving row unlabeled", err)
		return types.Label{}, nil
	}
	return types.Label{}, fmt.Errorf("%w: %v", ErrFatalClassifier, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
