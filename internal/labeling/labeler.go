package labeling

import (
	"context"
	"strings"
	"time"

	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/tickers"
	"wsb-sentiment/internal/types"
)

// Labeler fills the tickers, sentiment and ai_reason columns of one row.
type Labeler struct {
	tickers  *tickers.Set
	analyzer *Analyzer
	delay    time.Duration
	calls    int
}

func NewLabeler(set *tickers.Set, analyzer *Analyzer, delay time.Duration) *Labeler {
	return &Labeler{tickers: set, analyzer: analyzer, delay: delay}
}

// Calls returns how many classification attempts have been made.
func (l *Labeler) Calls() int {
	return l.calls
}

// LabelRow matches tickers in the row's combined text and, when at least
// one matched, classifies it. A "Rate Limited" first answer is retried
// exactly once and the second answer is kept as is. Each classifier call is
// followed by the configured delay.
func (l *Labeler) LabelRow(ctx context.Context, row int, p *types.LabeledPost) error {
	text := tickers.CombinedText(p.Title, p.Selftext)
	matched := l.tickers.Match(text)

	p.Tickers = types.TickerList(matched)
	p.Sentiment, p.AIReason = "", ""

	if len(matched) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	label, err := l.classify(ctx, text)
	if err != nil {
		return err
	}
	if label.Sentiment == types.SentimentRateLimited {
		logger.Info(ctx, "Retrying after rate limit", "row", row)
		if label, err = l.classify(ctx, text); err != nil {
			return err
		}
	}

	if label.Sentiment != "" && label.Reason != "" {
		p.Sentiment, p.AIReason = label.Sentiment, label.Reason
	}
	logger.Label(ctx, row, matched, p.Sentiment, p.AIReason)
	return nil
}

func (l *Labeler) classify(ctx context.Context, text string) (types.Label, error) {
	l.calls++
	label, err := l.analyzer.Analyze(ctx, text)
	if err != nil {
		return types.Label{}, err
	}
	if err := l.analyzer.sleep(ctx, l.delay); err != nil {
		return types.Label{}, err
	}
	return label, nil
}
