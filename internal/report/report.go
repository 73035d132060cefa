package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"

	"wsb-sentiment/internal/types"
)

// ErrNoPosts is returned when nothing in the dataset qualifies.
var ErrNoPosts = errors.New("no posts to report on")

const dayLayout = "2006-01-02"

type SentimentCount struct {
	Sentiment string `csv:"sentiment"`
	Count     int    `csv:"count"`
}

type TickerCount struct {
	Ticker   string `csv:"ticker"`
	Mentions int    `csv:"mentions"`
}

// PeriodRow counts sentiments in one bucket. Sentinel labels ("API Error"
// and the like) are counted as Other.
type PeriodRow struct {
	Period   string `csv:"period"`
	Positive int    `csv:"Positive"`
	Negative int    `csv:"Negative"`
	Neutral  int    `csv:"Neutral"`
	Other    int    `csv:"Other"`
}

// Report is the aggregate view of a labeled dataset.
type Report struct {
	Period       Period
	Rows         int
	Undated      int
	Distribution []SentimentCount
	ByPeriod     []PeriodRow
	TopTickers   []TickerCount
}

// Build computes the sentiment distribution, the per-period counts and the
// most mentioned tickers among rows with a valid sentiment.
func Build(posts []types.LabeledPost, period Period, topN int) (*Report, error) {
	if len(posts) == 0 {
		return nil, ErrNoPosts
	}
	r := &Report{Period: period, Rows: len(posts)}
	r.Distribution = distribution(posts)
	r.TopTickers = topTickers(posts, topN)

	r.ByPeriod, r.Undated = byPeriod(posts, period)
	return r, nil
}

func distribution(posts []types.LabeledPost) []SentimentCount {
	counts := map[string]int{}
	for _, p := range posts {
		if p.HasLabel() {
			counts[p.Sentiment]++
		}
	}
	out := make([]SentimentCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, SentimentCount{Sentiment: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sentiment < out[j].Sentiment
	})
	return out
}

func topTickers(posts []types.LabeledPost, topN int) []TickerCount {
	counts := map[string]int{}
	for _, p := range posts {
		if !types.IsValidSentiment(p.Sentiment) {
			continue
		}
		for _, t := range p.Tickers {
			counts[t]++
		}
	}
	out := make([]TickerCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TickerCount{Ticker: t, Mentions: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Ticker < out[j].Ticker
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

type datedPost struct {
	end  time.Time
	post *types.LabeledPost
}

// bucket assigns each labeled post to its period end. Posts whose date
// cannot be read are counted and left out.
func bucket(posts []types.LabeledPost, period Period, keep func(*types.LabeledPost) bool) ([]datedPost, int) {
	var out []datedPost
	undated := 0
	for i := range posts {
		p := &posts[i]
		if !keep(p) {
			continue
		}
		t, err := ParseDate(p.Date)
		if err != nil {
			undated++
			continue
		}
		out = append(out, datedPost{end: period.End(t), post: p})
	}
	return out, undated
}

// span lists every bucket end from the earliest to the latest in dated.
func span(dated []datedPost, period Period) []time.Time {
	if len(dated) == 0 {
		return nil
	}
	first, last := dated[0].end, dated[0].end
	for _, d := range dated[1:] {
		if d.end.Before(first) {
			first = d.end
		}
		if d.end.After(last) {
			last = d.end
		}
	}
	var ends []time.Time
	for e := first; !e.After(last); e = period.Next(e) {
		ends = append(ends, e)
	}
	return ends
}

func byPeriod(posts []types.LabeledPost, period Period) ([]PeriodRow, int) {
	dated, undated := bucket(posts, period, func(p *types.LabeledPost) bool { return p.HasLabel() })
	ends := span(dated, period)

	index := make(map[time.Time]int, len(ends))
	rows := make([]PeriodRow, len(ends))
	for i, e := range ends {
		index[e] = i
		rows[i].Period = e.Format(dayLayout)
	}
	for _, d := range dated {
		row := &rows[index[d.end]]
		switch d.post.Sentiment {
		case types.SentimentPositive:
			row.Positive++
		case types.SentimentNegative:
			row.Negative++
		case types.SentimentNeutral:
			row.Neutral++
		default:
			row.Other++
		}
	}
	return rows, undated
}

// Save writes the report tables as CSV files under dir and returns their
// paths.
func (r *Report) Save(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := []struct {
		name string
		rows any
	}{
		{"sentiment_distribution.csv", &r.Distribution},
		{fmt.Sprintf("sentiment_by_%s.csv", r.Period.Name()), &r.ByPeriod},
		{"top_tickers.csv", &r.TopTickers},
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := WriteCSV(path, f.rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteCSV marshals a pointer to a slice of csv-tagged structs into path.
func WriteCSV(path string, rows any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(rows, f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
