package types

import (
	"encoding/json"
	"sort"
	"strings"
)

// Sentiment values produced by the classifier, plus the in-band sentinels
// written when a label could not be obtained normally.
const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"

	SentimentRateLimited = "Rate Limited"
	SentimentAPIError    = "API Error"
	SentimentParseError  = "Parse Error"
)

// IsValidSentiment reports whether s is one of the three real labels.
func IsValidSentiment(s string) bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// SentimentScore maps a valid sentiment onto -1/0/+1.
func SentimentScore(s string) (float64, bool) {
	switch s {
	case SentimentPositive:
		return 1, true
	case SentimentNeutral:
		return 0, true
	case SentimentNegative:
		return -1, true
	}
	return 0, false
}

// Post is one row of the raw WallStreetBets dump.
type Post struct {
	Score     string `csv:"score"`
	Date      string `csv:"date"`
	Title     string `csv:"title"`
	Author    string `csv:"author"`
	Permalink string `csv:"permalink"`
	Selftext  string `csv:"selftext"`
}

// LabeledPost is a Post after the labeling pipeline. Sentiment and AIReason
// are either both set or both empty.
type LabeledPost struct {
	Score     string     `csv:"score"`
	Date      string     `csv:"date"`
	Title     string     `csv:"title"`
	Author    string     `csv:"author"`
	Permalink string     `csv:"permalink"`
	Selftext  string     `csv:"selftext"`
	Sentiment string     `csv:"sentiment"`
	AIReason  string     `csv:"ai_reason"`
	Tickers   TickerList `csv:"tickers"`
}

// Post returns the unlabeled part of the record.
func (l LabeledPost) Post() Post {
	return Post{
		Score:     l.Score,
		Date:      l.Date,
		Title:     l.Title,
		Author:    l.Author,
		Permalink: l.Permalink,
		Selftext:  l.Selftext,
	}
}

// HasLabel reports whether a classification was recorded for the row.
func (l LabeledPost) HasLabel() bool {
	return l.Sentiment != ""
}

// Label is the (sentiment, reason) pair returned by a classifier.
type Label struct {
	Sentiment string `json:"sentiment"`
	Reason    string `json:"ai_reason"`
}

// Empty reports whether no label was obtained.
func (l Label) Empty() bool {
	return l.Sentiment == "" && l.Reason == ""
}

// TickerList is the serialized tickers column: a JSON array of uppercase
// symbols, e.g. ["GME","TSLA"].
type TickerList []string

// Contains reports whether the list holds symbol (case-insensitive).
func (t TickerList) Contains(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	for _, s := range t {
		if s == symbol {
			return true
		}
	}
	return false
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (t TickerList) MarshalCSV() (string, error) {
	out := make([]string, len(t))
	copy(out, t)
	sort.Strings(out)
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller. Anything that does not
// look like a JSON list (including an empty cell) decodes to an empty list.
func (t *TickerList) UnmarshalCSV(s string) error {
	*t = ParseTickerList(s)
	return nil
}

// ParseTickerList decodes a tickers cell leniently.
func ParseTickerList(s string) TickerList {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return TickerList{}
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return TickerList{}
	}
	return TickerList(out)
}
