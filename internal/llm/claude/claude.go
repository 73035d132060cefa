package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"wsb-sentiment/internal/llm"
	"wsb-sentiment/internal/store"
	"wsb-sentiment/internal/trace"
	"wsb-sentiment/internal/types"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
	// Anthropic's "overloaded" status.
	statusOverloaded = 529
)

// Classifier labels post sentiment using the Anthropic messages API.
type Classifier struct {
	cfg      *store.Config
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewClassifier creates a Claude-backed classifier. The key comes from
// ANTHROPIC_API_KEY or CLAUDE_API_KEY; CLAUDE_API_ENDPOINT overrides the
// messages endpoint for proxies.
func NewClassifier(cfg *store.Config) (*Classifier, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("CLAUDE_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY missing")
	}
	endpoint := defaultEndpoint
	if ep := os.Getenv("CLAUDE_API_ENDPOINT"); ep != "" {
		endpoint = ep
	}
	return &Classifier{
		cfg:      cfg,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: cfg.Classifier.Timeout},
	}, nil
}

func (c *Classifier) Classify(ctx context.Context, text string) (types.Label, error) {
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	reqBody := map[string]any{
		"model":  c.cfg.Classifier.Model,
		"system": c.cfg.Classifier.System,
		"messages": []map[string]string{
			{"role": "user", "content": llm.UserPrompt(text)},
		},
		"max_tokens":  c.cfg.Classifier.MaxTokens,
		"temperature": c.cfg.Classifier.Temperature,
	}
	bb, err := json.Marshal(reqBody)
	if err != nil {
		return types.Label{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bb))
	if err != nil {
		return types.Label{}, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Label{}, err
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return types.Label{}, fmt.Errorf("%w: %v", llm.ErrTransient, err)
		}
		return types.Label{}, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Label{}, fmt.Errorf("%w: read body: %v", llm.ErrTransient, err)
	}

	if resp.StatusCode >= 300 {
		return types.Label{}, statusError(resp.StatusCode, respBytes)
	}

	var r struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBytes, &r); err != nil {
		return types.Label{}, fmt.Errorf("%w: claude envelope: %v", llm.ErrMalformed, err)
	}

	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return llm.ParseLabel(sb.String())
}

func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case status == http.StatusTooManyRequests || status == statusOverloaded:
		return fmt.Errorf("%w: claude http %d: %s", llm.ErrRateLimited, status, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("claude credentials rejected: http %d: %s", status, msg)
	default:
		return fmt.Errorf("%w: claude http %d: %s", llm.ErrTransient, status, msg)
	}
}
