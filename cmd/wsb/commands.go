package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"wsb-sentiment/internal/dataset"
	"wsb-sentiment/internal/ledger"
	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/report"
	"wsb-sentiment/internal/store"
	"wsb-sentiment/internal/tickers"
	"wsb-sentiment/internal/watch"
)

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file (env WSB_CONFIG)")
	return fs, configPath
}

func runHeaders(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("headers")
	in := fs.String("in", "", "headerless raw dump (default: input_path from config)")
	out := fs.String("out", "", "output path (default: <in>_sentiment.csv)")
	inPlace := fs.Bool("in-place", false, "rewrite the input file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}

	src := *in
	if src == "" {
		src = cfg.InputPath
	}
	dst := *out
	switch {
	case *inPlace:
		dst = src
	case dst == "":
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + "_sentiment.csv"
	}

	n, err := dataset.AssignHeaders(src, dst, cfg.ChunkSize)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Headers assigned", "input", src, "output", dst, "rows", n)
	return nil
}

func runLabel(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("label")
	maxChunks := fs.Int("max-chunks", -1, "stop after N chunks (0 = no limit; default from config)")
	skipChunks := fs.Int("skip-chunks", -1, "resume by skipping N input chunks instead of inspecting the output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}
	if *maxChunks >= 0 {
		cfg.MaxChunks = *maxChunks
	}
	if *skipChunks >= 0 {
		cfg.Resume.Mode = store.ResumeFixed
		cfg.Resume.ChunksAlreadyProcessed = *skipChunks
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	pipeline, cleanup, err := initializePipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Labeling finished",
		"run_id", res.RunID,
		"skipped_rows", res.SkippedRows,
		"chunks", res.Chunks,
		"rows", res.Rows,
		"labeled", res.Labeled,
		"classifier_calls", res.Calls,
		"complete", res.Complete,
	)
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("watch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}
	if cfg.Resume.Mode != store.ResumeAuto {
		return errors.New("watch requires resume.mode: auto")
	}
	// Each pass must cover everything new.
	cfg.MaxChunks = 0

	pipeline, cleanup, err := initializePipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	pipeline.CompleteRowsOnly()

	logger.Info(ctx, "Watching input for new posts", "input", cfg.InputPath, "debounce", cfg.Watch.Debounce.String())
	w := watch.New(cfg.InputPath, cfg.Watch.Debounce, func(ctx context.Context) error {
		res, err := pipeline.Run(ctx)
		if err != nil {
			return err
		}
		if res.Rows > 0 {
			logger.Info(ctx, "New posts labeled", "rows", res.Rows, "labeled", res.Labeled)
		}
		return nil
	})
	return w.Run(ctx)
}

func runTickers(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("tickers")
	sourceURL := fs.String("url", "", "listing page (default: tickers.source_url)")
	selector := fs.String("selector", "", "CSS selector of symbol cells (default: tickers.selector)")
	out := fs.String("out", "", "ticker file to write (default: ticker_file)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}

	src := firstNonEmpty(*sourceURL, cfg.Tickers.SourceURL)
	if src == "" {
		return errors.New("no ticker source: set tickers.source_url or -url")
	}
	dst := firstNonEmpty(*out, cfg.TickerFile)

	symbols, err := tickers.NewScraper(firstNonEmpty(*selector, cfg.Tickers.Selector), cfg.Classifier.Timeout).Scrape(ctx, src)
	if err != nil {
		return err
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := tickers.Write(f, symbols); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info(ctx, "Ticker list written", "path", dst, "symbols", len(symbols))
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("report")
	in := fs.String("in", "", "labeled dataset (default: output_path)")
	periodFlag := fs.String("period", "", "D, W, M or Q (default: report.period)")
	topN := fs.Int("top", 0, "number of tickers to list (default: report.top_n)")
	outDir := fs.String("out-dir", "", "directory for CSV files (default: report.out_dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}
	period, err := report.ParsePeriod(firstNonEmpty(*periodFlag, cfg.Report.Period))
	if err != nil {
		return err
	}
	if *topN <= 0 {
		*topN = cfg.Report.TopN
	}

	src := firstNonEmpty(*in, cfg.OutputPath)
	posts, err := dataset.LoadAll(src)
	if err != nil {
		return err
	}
	r, err := report.Build(posts, period, *topN)
	if err != nil {
		return err
	}

	logger.Info(ctx, "Report built", "input", src, "rows", r.Rows, "undated", r.Undated, "period", period.Name())
	for _, c := range r.Distribution {
		logger.Info(ctx, "Sentiment", "sentiment", c.Sentiment, "count", c.Count)
	}
	for i, t := range r.TopTickers {
		logger.Info(ctx, fmt.Sprintf("Top ticker #%d", i+1), "ticker", t.Ticker, "mentions", t.Mentions)
	}

	paths, err := r.Save(firstNonEmpty(*outDir, cfg.Report.OutDir))
	if err != nil {
		return err
	}
	logger.Info(ctx, "Report files written", "files", paths)
	return nil
}

func runTicker(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("ticker")
	in := fs.String("in", "", "labeled dataset (default: output_path)")
	symbol := fs.String("symbol", "", "ticker to follow (default: report.target_ticker)")
	periodFlag := fs.String("period", "", "D, W, M or Q (default: report.period)")
	out := fs.String("out", "", "write the timeline CSV here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}
	period, err := report.ParsePeriod(firstNonEmpty(*periodFlag, cfg.Report.Period))
	if err != nil {
		return err
	}
	target := firstNonEmpty(*symbol, cfg.Report.TargetTicker)

	posts, err := dataset.LoadAll(firstNonEmpty(*in, cfg.OutputPath))
	if err != nil {
		return err
	}
	rows, err := report.Timeline(posts, target, period)
	if errors.Is(err, report.ErrNoPosts) {
		logger.Info(ctx, "No labeled posts found for ticker", "ticker", strings.ToUpper(target))
		return nil
	}
	if err != nil {
		return err
	}

	if *out != "" {
		if err := report.WriteCSV(*out, &rows); err != nil {
			return err
		}
		logger.Info(ctx, "Ticker timeline written", "ticker", strings.ToUpper(target), "buckets", len(rows), "path", *out)
		return nil
	}
	return gocsv.Marshal(&rows, os.Stdout)
}

func runStatus(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("status")
	limit := fs.Int("limit", 10, "number of runs to show")
	chunks := fs.Bool("chunks", false, "list the chunks of the latest run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, *configPath)
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return errors.New("ledger is disabled (ledger.enabled: false)")
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.RecentRuns(ctx, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("%s  %-9s  started %s  finished %s  skipped %d  chunks %d  rows %d  labeled %d  calls %d\n",
			r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime), finished,
			r.SkippedRows, r.Chunks, r.Rows, r.Labeled, r.Calls)
		if r.LastError != "" {
			fmt.Printf("    error: %s\n", r.LastError)
		}
	}

	if cfg.Ledger.CacheLabels {
		if n, err := l.CachedLabels(ctx); err == nil {
			fmt.Printf("Cached labels: %d\n", n)
		}
	}

	if *chunks {
		recs, err := l.Chunks(ctx, runs[0].ID)
		if err != nil {
			return err
		}
		for _, c := range recs {
			fmt.Printf("  chunk %d  rows %d  labeled %d  at %s\n", c.Index+1, c.Rows, c.Labeled, c.CreatedAt.Local().Format(time.DateTime))
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
