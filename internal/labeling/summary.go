package labeling

import (
	"fmt"
	"sort"
	"strings"

	"wsb-sentiment/internal/types"
)

const summaryTop = 10

type chunkSummary struct {
	Sentiments []string
	Reasons    []string
	Tickers    []string
}

// summarize computes the per-chunk value counts that are logged after each
// write, formatted as "value=count".
func summarize(chunk []types.LabeledPost) chunkSummary {
	sentiments := map[string]int{}
	reasons := map[string]int{}
	tickerSets := map[string]int{}
	for _, p := range chunk {
		if p.Sentiment != "" {
			sentiments[p.Sentiment]++
		}
		if p.AIReason != "" {
			reasons[p.AIReason]++
		}
		if len(p.Tickers) > 0 {
			cell, _ := p.Tickers.MarshalCSV()
			tickerSets[cell]++
		}
	}
	return chunkSummary{
		Sentiments: topCounts(sentiments, summaryTop),
		Reasons:    topCounts(reasons, summaryTop),
		Tickers:    topCounts(tickerSets, summaryTop),
	}
}

func topCounts(m map[string]int, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		if len(k) > 60 {
			k = strings.TrimSpace(k[:60]) + "..."
		}
		out[i] = fmt.Sprintf("%s=%d", k, m[keys[i]])
	}
	return out
}
