package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"wsb-sentiment/internal/llm"
	"wsb-sentiment/internal/store"
	"wsb-sentiment/internal/trace"
	"wsb-sentiment/internal/types"
)

// Classifier labels post sentiment with the OpenAI chat completions API in
// JSON-object response mode.
type Classifier struct {
	client      openai.Client
	model       string
	system      string
	temperature float64
	maxTokens   int
}

// NewClassifier builds a classifier from cfg. The API key is read from
// OPENAI_API_KEY; OPENAI_BASE_URL is honoured by the client. Extra options
// are applied last, which lets tests point the client at a local server.
func NewClassifier(cfg *store.Config, opts ...option.RequestOption) (*Classifier, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" && len(opts) == 0 {
		return nil, errors.New("OPENAI_API_KEY missing")
	}

	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are owned by the labeling pipeline.
		option.WithMaxRetries(cfg.Classifier.MaxRetries),
		option.WithRequestTimeout(cfg.Classifier.Timeout),
	}
	return &Classifier{
		client:      openai.NewClient(append(base, opts...)...),
		model:       cfg.Classifier.Model,
		system:      cfg.Classifier.System,
		temperature: cfg.Classifier.Temperature,
		maxTokens:   cfg.Classifier.MaxTokens,
	}, nil
}

func (c *Classifier) Classify(ctx context.Context, text string) (types.Label, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.system),
			openai.UserMessage(llm.UserPrompt(text)),
		},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return types.Label{}, classifyError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return types.Label{}, fmt.Errorf("%w: no choices in openai response", llm.ErrMalformed)
	}
	return llm.ParseLabel(resp.Choices[0].Message.Content)
}

// classifyError maps client errors onto the llm sentinels. Quota exhaustion
// and rejected credentials are left unwrapped so the pipeline stops.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests && apiErr.Code == "insufficient_quota":
			return fmt.Errorf("openai quota exhausted: %w", err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", llm.ErrRateLimited, err)
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("openai credentials rejected: %w", err)
		default:
			return fmt.Errorf("%w: openai http %d: %v", llm.ErrTransient, apiErr.StatusCode, err)
		}
	}

	// Per-request timeouts surface as deadline errors while ctx is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", llm.ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", llm.ErrTransient, err)
	}
	return err
}
