package labeling

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wsb-sentiment/internal/dataset"
	"wsb-sentiment/internal/llm"
	"wsb-sentiment/internal/store"
	"wsb-sentiment/internal/tickers"
	"wsb-sentiment/internal/types"
)

// fakeClassifier answers Positive for texts mentioning the moon and
// Negative otherwise. errs injects failures by 1-based call number.
type fakeClassifier struct {
	calls  []string
	errs   map[int]error
	failOn string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (types.Label, error) {
	f.calls = append(f.calls, text)
	if err, ok := f.errs[len(f.calls)]; ok {
		return types.Label{}, err
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return types.Label{}, errors.New("invalid request: model not found")
	}
	if strings.Contains(text, "moon") {
		return types.Label{Sentiment: types.SentimentPositive, Reason: "Expects the price to rise."}, nil
	}
	return types.Label{Sentiment: types.SentimentNegative, Reason: "Expects losses, " + text}, nil
}

type sleepRecorder struct {
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func testConfig(t *testing.T) *store.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := store.Default()
	cfg.InputPath = filepath.Join(dir, "in.csv")
	cfg.OutputPath = filepath.Join(dir, "out.csv")
	cfg.ChunkSize = 3
	return cfg
}

func newLabeler(t *testing.T, cfg *store.Config, cls *fakeClassifier, sr *sleepRecorder) *Labeler {
	t.Helper()
	set, err := tickers.NewSet([]string{"gme", "tsla", "amc"})
	if err != nil {
		t.Fatal(err)
	}
	a := NewAnalyzer(cls, cfg)
	a.sleep = sr.sleep
	return NewLabeler(set, a, cfg.DelayBetweenCalls)
}

func writeInput(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		t.Fatal(err)
	}
}

func sampleRows(n int) [][]string {
	bodies := []string{
		"gme to the moon",
		"nothing to see here",
		"sold my tsla, lost everything",
		"",
		"amc and $gme\nsecond line, moon",
		"spy puts",
		"#tsla moon mission",
	}
	rows := make([][]string, n)
	for i := range rows {
		body := bodies[i%len(bodies)]
		title := fmt.Sprintf("Post %d", i+1)
		if body == "" {
			title = ""
		}
		rows[i] = []string{fmt.Sprint(10 + i), fmt.Sprintf("2021-01-%02d 10:00:00", i%28+1), title, "user", fmt.Sprintf("/r/wsb/%d", i), body}
	}
	return rows
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func headerCount(content string) int {
	return strings.Count(content, "score,date,title,author,permalink,selftext,sentiment,ai_reason,tickers\n")
}

func runPipeline(t *testing.T, cfg *store.Config, cls *fakeClassifier) (*Result, error) {
	t.Helper()
	p := NewPipeline(cfg, newLabeler(t, cfg, cls, &sleepRecorder{}), nil)
	return p.Run(context.Background())
}

func TestLabelRowEmptyTextMakesNoCall(t *testing.T) {
	cfg := testConfig(t)
	cls := &fakeClassifier{}
	l := newLabeler(t, cfg, cls, &sleepRecorder{})

	p := types.LabeledPost{Title: "", Selftext: ""}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Fatalf("LabelRow: %v", err)
	}
	if len(p.Tickers) != 0 || p.Tickers == nil {
		t.Errorf("Expected empty ticker list, got %v", p.Tickers)
	}
	if p.Sentiment != "" || p.AIReason != "" {
		t.Errorf("Expected absent label, got %q/%q", p.Sentiment, p.AIReason)
	}
	if len(cls.calls) != 0 {
		t.Errorf("Expected no classifier call, got %d", len(cls.calls))
	}
}

func TestLabelRowWithoutTickerMakesNoCall(t *testing.T) {
	cfg := testConfig(t)
	cls := &fakeClassifier{}
	l := newLabeler(t, cfg, cls, &sleepRecorder{})

	p := types.LabeledPost{Title: "Loss porn", Selftext: "my portfolio is gone"}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Fatal(err)
	}
	if len(cls.calls) != 0 || p.HasLabel() {
		t.Errorf("Expected no call and no label, got %d calls and %q", len(cls.calls), p.Sentiment)
	}
}

func TestLabelRowRetriesOnceAfterRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cls := &fakeClassifier{errs: map[int]error{1: fmt.Errorf("%w: 429", llm.ErrRateLimited)}}
	sr := &sleepRecorder{}
	l := newLabeler(t, cfg, cls, sr)

	p := types.LabeledPost{Title: "GME", Selftext: "to the moon"}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Fatalf("LabelRow: %v", err)
	}
	if p.Sentiment != types.SentimentPositive {
		t.Errorf("Expected Positive after retry, got %q", p.Sentiment)
	}
	if len(cls.calls) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(cls.calls))
	}
	if len(sr.slept) == 0 || sr.slept[0] != cfg.Classifier.RateLimitCooldown {
		t.Errorf("Expected cooldown sleep of %v first, got %v", cfg.Classifier.RateLimitCooldown, sr.slept)
	}
}

func TestLabelRowKeepsSecondRateLimit(t *testing.T) {
	cfg := testConfig(t)
	rl := fmt.Errorf("%w: 429", llm.ErrRateLimited)
	cls := &fakeClassifier{errs: map[int]error{1: rl, 2: rl}}
	l := newLabeler(t, cfg, cls, &sleepRecorder{})

	p := types.LabeledPost{Title: "tsla"}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Fatal(err)
	}
	if p.Sentiment != types.SentimentRateLimited || p.AIReason != "Retrying after delay" {
		t.Errorf("Expected rate limited sentinel, got %q/%q", p.Sentiment, p.AIReason)
	}
	if len(cls.calls) != 2 {
		t.Errorf("Expected exactly 2 calls, got %d", len(cls.calls))
	}
}

func TestLabelRowTransientLeavesLabelAbsent(t *testing.T) {
	cfg := testConfig(t)
	for _, sentinel := range []error{llm.ErrTransient, llm.ErrMalformed} {
		cls := &fakeClassifier{errs: map[int]error{1: fmt.Errorf("%w: boom", sentinel)}}
		l := newLabeler(t, cfg, cls, &sleepRecorder{})

		p := types.LabeledPost{Title: "amc"}
		if err := l.LabelRow(context.Background(), 1, &p); err != nil {
			t.Fatalf("Expected no error for %v, got %v", sentinel, err)
		}
		if p.HasLabel() || p.AIReason != "" {
			t.Errorf("Expected absent label for %v, got %q/%q", sentinel, p.Sentiment, p.AIReason)
		}
		if !p.Tickers.Contains("AMC") {
			t.Errorf("Expected AMC in tickers, got %v", p.Tickers)
		}
	}
}

func TestLabelRowTruncatesText(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxChars = 10
	cls := &fakeClassifier{}
	l := newLabeler(t, cfg, cls, &sleepRecorder{})

	p := types.LabeledPost{Title: "gme", Selftext: strings.Repeat("x", 50)}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Fatal(err)
	}
	if len(cls.calls) != 1 || len([]rune(cls.calls[0])) != 10 {
		t.Errorf("Expected one call with 10 characters, got %q", cls.calls)
	}
}

func TestLabelRowUnexpectedErrorPolicy(t *testing.T) {
	cfg := testConfig(t)
	cls := &fakeClassifier{failOn: "gme"}
	l := newLabeler(t, cfg, cls, &sleepRecorder{})

	p := types.LabeledPost{Title: "gme"}
	err := l.LabelRow(context.Background(), 1, &p)
	if !errors.Is(err, ErrFatalClassifier) {
		t.Errorf("Expected ErrFatalClassifier, got %v", err)
	}

	cfg.Classifier.OnUnexpected = store.OnUnexpectedSkip
	l = newLabeler(t, cfg, cls, &sleepRecorder{})
	p = types.LabeledPost{Title: "gme"}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Errorf("Expected skip policy to swallow error, got %v", err)
	}
	if p.HasLabel() {
		t.Errorf("Expected absent label, got %q", p.Sentiment)
	}
}

func TestLabelRowDelaysAfterEachCall(t *testing.T) {
	cfg := testConfig(t)
	cfg.DelayBetweenCalls = 20 * time.Millisecond
	sr := &sleepRecorder{}
	l := newLabeler(t, cfg, &fakeClassifier{}, sr)

	p := types.LabeledPost{Title: "gme"}
	if err := l.LabelRow(context.Background(), 1, &p); err != nil {
		t.Fatal(err)
	}
	if len(sr.slept) != 1 || sr.slept[0] != 20*time.Millisecond {
		t.Errorf("Expected one 20ms delay, got %v", sr.slept)
	}
}

func TestRunWritesAllRowsWithOneHeader(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputPath, sampleRows(7))

	res, err := runPipeline(t, cfg, &fakeClassifier{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Chunks != 3 || res.Rows != 7 || !res.Complete {
		t.Errorf("Expected 3 chunks / 7 rows / complete, got %+v", res)
	}

	out := readFile(t, cfg.OutputPath)
	if n := headerCount(out); n != 1 {
		t.Errorf("Expected 1 header, got %d", n)
	}
	rows, err := dataset.LoadAll(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 7 {
		t.Fatalf("Expected 7 rows, got %d", len(rows))
	}
	if rows[3].HasLabel() || len(rows[3].Tickers) != 0 {
		t.Errorf("Expected empty row 4 to stay unlabeled, got %+v", rows[3])
	}
	if rows[0].Sentiment != types.SentimentPositive || !rows[0].Tickers.Contains("GME") {
		t.Errorf("Expected row 1 Positive with GME, got %+v", rows[0])
	}
	if rows[5].HasLabel() {
		t.Errorf("Expected row without known ticker to stay unlabeled, got %+v", rows[5])
	}
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	input := sampleRows(11)

	base := testConfig(t)
	writeInput(t, base.InputPath, input)
	if _, err := runPipeline(t, base, &fakeClassifier{}); err != nil {
		t.Fatal(err)
	}
	want := readFile(t, base.OutputPath)

	t.Run("auto after chunk limit", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg.InputPath, input)
		cfg.MaxChunks = 1
		for i := 0; i < 5; i++ {
			if _, err := runPipeline(t, cfg, &fakeClassifier{}); err != nil {
				t.Fatal(err)
			}
		}
		if got := readFile(t, cfg.OutputPath); got != want {
			t.Errorf("Expected resumed output to match uninterrupted run\nwant:\n%s\ngot:\n%s", want, got)
		}
	})

	t.Run("auto after fatal abort", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg.InputPath, input)
		_, err := runPipeline(t, cfg, &fakeClassifier{failOn: "post 10"})
		if !errors.Is(err, ErrFatalClassifier) {
			t.Fatalf("Expected ErrFatalClassifier, got %v", err)
		}
		st, err := dataset.InspectOutput(cfg.OutputPath)
		if err != nil || st.Rows != 9 {
			t.Fatalf("Expected 9 rows written before abort, got %+v (%v)", st, err)
		}
		if _, err := runPipeline(t, cfg, &fakeClassifier{}); err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, cfg.OutputPath); got != want {
			t.Errorf("Expected resumed output to match uninterrupted run")
		}
	})

	t.Run("auto mid chunk", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg.InputPath, input)
		full, err := dataset.LoadAll(base.OutputPath)
		if err != nil {
			t.Fatal(err)
		}
		if err := dataset.AppendChunk(cfg.OutputPath, full[:4], true); err != nil {
			t.Fatal(err)
		}
		res, err := runPipeline(t, cfg, &fakeClassifier{})
		if err != nil {
			t.Fatal(err)
		}
		if res.SkippedRows != 4 || res.Rows != 7 {
			t.Errorf("Expected 4 skipped and 7 processed rows, got %+v", res)
		}
		if got := readFile(t, cfg.OutputPath); got != want {
			t.Errorf("Expected resumed output to match uninterrupted run")
		}
	})

	t.Run("fixed offset", func(t *testing.T) {
		cfg := testConfig(t)
		writeInput(t, cfg.InputPath, input)
		cfg.MaxChunks = 2
		if _, err := runPipeline(t, cfg, &fakeClassifier{}); err != nil {
			t.Fatal(err)
		}
		cfg.MaxChunks = 0
		cfg.Resume.Mode = store.ResumeFixed
		cfg.Resume.ChunksAlreadyProcessed = 2
		cls := &fakeClassifier{}
		if _, err := runPipeline(t, cfg, cls); err != nil {
			t.Fatal(err)
		}
		got := readFile(t, cfg.OutputPath)
		if got != want {
			t.Errorf("Expected fixed resume output to match uninterrupted run")
		}
		if headerCount(got) != 1 {
			t.Errorf("Expected 1 header, got %d", headerCount(got))
		}
	})
}

func TestRunCompleteOutputIsNoop(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputPath, sampleRows(4))
	if _, err := runPipeline(t, cfg, &fakeClassifier{}); err != nil {
		t.Fatal(err)
	}
	before := readFile(t, cfg.OutputPath)

	cls := &fakeClassifier{}
	res, err := runPipeline(t, cfg, cls)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 0 || len(cls.calls) != 0 {
		t.Errorf("Expected nothing to do, got %+v with %d calls", res, len(cls.calls))
	}
	if readFile(t, cfg.OutputPath) != before {
		t.Error("Expected output to be unchanged")
	}
}

func TestRunOutputLongerThanInput(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputPath, sampleRows(5))
	if _, err := runPipeline(t, cfg, &fakeClassifier{}); err != nil {
		t.Fatal(err)
	}
	writeInput(t, cfg.InputPath, sampleRows(2))

	_, err := runPipeline(t, cfg, &fakeClassifier{})
	if !errors.Is(err, dataset.ErrCorruptOutput) {
		t.Errorf("Expected ErrCorruptOutput, got %v", err)
	}
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig(t)
	_, err := runPipeline(t, cfg, &fakeClassifier{})
	if !errors.Is(err, dataset.ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput, got %v", err)
	}
	if _, statErr := os.Stat(cfg.OutputPath); !os.IsNotExist(statErr) {
		t.Error("Expected no output file to be created")
	}
}

// cancelingClassifier cancels the run once it has answered `after` calls.
type cancelingClassifier struct {
	fakeClassifier
	after  int
	cancel context.CancelFunc
}

func (c *cancelingClassifier) Classify(ctx context.Context, text string) (types.Label, error) {
	label, err := c.fakeClassifier.Classify(ctx, text)
	if len(c.calls) == c.after {
		c.cancel()
	}
	return label, err
}

func TestRunCancelledMidChunkLeavesChunkUnwritten(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputPath, sampleRows(7))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Call 3 is row 5, inside the second chunk.
	cls := &cancelingClassifier{after: 3, cancel: cancel}
	a := NewAnalyzer(cls, cfg)
	a.sleep = (&sleepRecorder{}).sleep
	set, err := tickers.NewSet([]string{"gme", "tsla", "amc"})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(cfg, NewLabeler(set, a, cfg.DelayBetweenCalls), nil)

	res, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if res.Chunks != 1 || res.Rows != 3 {
		t.Errorf("Expected only the first chunk written, got %+v", res)
	}
	rows, err := dataset.LoadAll(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("Expected 3 rows on disk, got %d", len(rows))
	}

	res, err = runPipeline(t, cfg, &fakeClassifier{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.SkippedRows != 3 || res.Rows != 4 || !res.Complete {
		t.Errorf("Expected resume over the remaining 4 rows, got %+v", res)
	}
}

func TestRunCountsCallsPerRun(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputPath, sampleRows(7))
	p := NewPipeline(cfg, newLabeler(t, cfg, &fakeClassifier{}, &sleepRecorder{}), nil)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Calls != 4 {
		t.Errorf("Expected 4 calls on the first run, got %d", res.Calls)
	}

	// Rows 8 and 10 mention tickers, row 9 does not.
	writeInput(t, cfg.InputPath, sampleRows(10))
	res, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run: %v", err)
	}
	if res.Rows != 3 || res.Calls != 2 {
		t.Errorf("Expected 3 rows and 2 calls on the second run, got %+v", res)
	}
}

func TestRunCompleteRowsOnlyWaitsForNewline(t *testing.T) {
	cfg := testConfig(t)
	writeInput(t, cfg.InputPath, sampleRows(7))
	full, err := os.ReadFile(cfg.InputPath)
	if err != nil {
		t.Fatal(err)
	}
	// Cut the last row short, as if the writer paused mid-line.
	lastRow := strings.LastIndex(strings.TrimSuffix(string(full), "\n"), "\n") + 1
	partial := string(full[:lastRow]) + string(full[lastRow:lastRow+10])
	if err := os.WriteFile(cfg.InputPath, []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewPipeline(cfg, newLabeler(t, cfg, &fakeClassifier{}, &sleepRecorder{}), nil)
	p.CompleteRowsOnly()

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 6 {
		t.Errorf("Expected 6 complete rows, got %d", res.Rows)
	}

	if err := os.WriteFile(cfg.InputPath, full, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = p.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run: %v", err)
	}
	if res.SkippedRows != 6 || res.Rows != 1 {
		t.Errorf("Expected the finished row on the next pass, got %+v", res)
	}
	rows, err := dataset.LoadAll(cfg.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 7 || rows[6].Selftext != "#tsla moon mission" {
		t.Errorf("Expected 7 rows ending with the complete row 7, got %d", len(rows))
	}
}
