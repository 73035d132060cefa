package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"wsb-sentiment/internal/interfaces"
	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/types"
)

// ErrNotFound is returned when a label is not cached.
var ErrNotFound = errors.New("label not cached")

// CacheKey identifies a classification by model, instruction and text.
func CacheKey(model, system, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// LookupLabel returns the cached label for key, or ErrNotFound.
func (l *Ledger) LookupLabel(ctx context.Context, key string) (types.Label, error) {
	var label types.Label
	err := l.db.QueryRowContext(ctx, `SELECT sentiment, ai_reason FROM labels WHERE cache_key=?`, key).
		Scan(&label.Sentiment, &label.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Label{}, ErrNotFound
	}
	return label, err
}

func (l *Ledger) StoreLabel(ctx context.Context, key, model string, label types.Label) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO labels(cache_key, model, sentiment, ai_reason, created_at) VALUES(?,?,?,?,?)
		ON CONFLICT(cache_key) DO UPDATE SET sentiment=excluded.sentiment, ai_reason=excluded.ai_reason, created_at=excluded.created_at`,
		key, model, label.Sentiment, label.Reason, l.now().UTC())
	return err
}

// CachedLabels counts the labels in the cache.
func (l *Ledger) CachedLabels(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM labels`).Scan(&n)
	return n, err
}

type cachedClassifier struct {
	ledger *Ledger
	inner  interfaces.Classifier
	model  string
	system string
}

// Compile-time interface check
var _ interfaces.Classifier = (*cachedClassifier)(nil)

// Cache wraps inner so a text already labeled with a real sentiment by the
// same model and instruction is answered from the ledger. Sentinel labels
// and failures are never cached.
func (l *Ledger) Cache(inner interfaces.Classifier, model, system string) interfaces.Classifier {
	return &cachedClassifier{ledger: l, inner: inner, model: model, system: system}
}

func (c *cachedClassifier) Classify(ctx context.Context, text string) (types.Label, error) {
	key := CacheKey(c.model, c.system, text)

	label, err := c.ledger.LookupLabel(ctx, key)
	if err == nil {
		logger.Debug(ctx, "Label cache hit", "key", key[:12], "sentiment", label.Sentiment)
		return label, nil
	}
	if !errors.Is(err, ErrNotFound) {
		logger.Warn(ctx, "Label cache lookup failed", "error", err.Error())
	}

	label, err = c.inner.Classify(ctx, text)
	if err != nil {
		return label, err
	}
	if types.IsValidSentiment(label.Sentiment) {
		if err := c.ledger.StoreLabel(ctx, key, c.model, label); err != nil {
			logger.Warn(ctx, "Failed to cache label", "error", err.Error())
		}
	}
	return label, nil
}
