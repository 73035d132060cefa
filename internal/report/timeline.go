package report

import (
	"fmt"
	"strings"

	"wsb-sentiment/internal/types"
)

// TimelineRow is one bucket of a single ticker's sentiment over time.
type TimelineRow struct {
	Period             string  `csv:"period"`
	AvgSentimentScore  float64 `csv:"avg_sentiment_score"`
	PostCount          int     `csv:"post_count"`
	PositiveProportion float64 `csv:"Positive_proportion"`
	NegativeProportion float64 `csv:"Negative_proportion"`
	NeutralProportion  float64 `csv:"Neutral_proportion"`
}

// Timeline follows one ticker over time. Only posts mentioning the ticker
// with a valid sentiment count; scores are Positive=+1, Neutral=0,
// Negative=-1. Empty buckets between the first and last post are zero.
func Timeline(posts []types.LabeledPost, ticker string, period Period) ([]TimelineRow, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	dated, _ := bucket(posts, period, func(p *types.LabeledPost) bool {
		return p.Tickers.Contains(ticker) && types.IsValidSentiment(p.Sentiment)
	})
	if len(dated) == 0 {
		return nil, fmt.Errorf("%w: no labeled posts mention %s", ErrNoPosts, ticker)
	}

	ends := span(dated, period)
	type acc struct {
		sum           float64
		n             int
		pos, neg, neu int
	}
	accs := make(map[string]*acc, len(ends))
	for _, d := range dated {
		key := d.end.Format(dayLayout)
		a := accs[key]
		if a == nil {
			a = &acc{}
			accs[key] = a
		}
		score, _ := types.SentimentScore(d.post.Sentiment)
		a.sum += score
		a.n++
		switch d.post.Sentiment {
		case types.SentimentPositive:
			a.pos++
		case types.SentimentNegative:
			a.neg++
		case types.SentimentNeutral:
			a.neu++
		}
	}

	rows := make([]TimelineRow, 0, len(ends))
	for _, e := range ends {
		key := e.Format(dayLayout)
		row := TimelineRow{Period: key}
		if a := accs[key]; a != nil {
			n := float64(a.n)
			row.AvgSentimentScore = a.sum / n
			row.PostCount = a.n
			row.PositiveProportion = float64(a.pos) / n
			row.NegativeProportion = float64(a.neg) / n
			row.NeutralProportion = float64(a.neu) / n
		}
		rows = append(rows, row)
	}
	return rows, nil
}
