package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wsb-sentiment/internal/types"
)

var (
	// ErrRateLimited means the provider asked us to slow down.
	ErrRateLimited = errors.New("classifier rate limited")
	// ErrTransient covers network failures, timeouts and server-side errors.
	ErrTransient = errors.New("transient classifier failure")
	// ErrMalformed means the response was not the expected JSON object.
	ErrMalformed = errors.New("malformed classifier response")
)

// UserPrompt wraps post text into the user message sent to every provider.
func UserPrompt(text string) string {
	return fmt.Sprintf("Analyze the following text: \"%s\"", text)
}

// ParseLabel decodes a model reply of the form
// {"sentiment": "...", "ai_reason": "..."}.
//
// An empty reply yields the "API Error" sentinel label and a missing or
// blank key yields "Parse Error" for that field; a reply that holds no JSON
// object at all is ErrMalformed.
func ParseLabel(content string) (types.Label, error) {
	t := strings.TrimSpace(content)
	if t == "" {
		return types.Label{Sentiment: types.SentimentAPIError, Reason: "Empty API response content"}, nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(t), &result); err != nil {
		// Some models wrap the object in prose or code fences.
		start := strings.Index(t, "{")
		end := strings.LastIndex(t, "}")
		if start < 0 || end <= start {
			return types.Label{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := json.Unmarshal([]byte(t[start:end+1]), &result); err != nil {
			return types.Label{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	return types.Label{
		Sentiment: normalizeSentiment(stringField(result, "sentiment")),
		Reason:    stringField(result, "ai_reason"),
	}, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return types.SentimentParseError
}

func normalizeSentiment(s string) string {
	for _, canonical := range []string{types.SentimentPositive, types.SentimentNegative, types.SentimentNeutral} {
		if strings.EqualFold(s, canonical) {
			return canonical
		}
	}
	return s
}

// Truncate limits text to maxChars characters (runes, not bytes).
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}
