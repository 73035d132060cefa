package labeling

import (
	"context"
	"fmt"
	"io"

	"wsb-sentiment/internal/dataset"
	"wsb-sentiment/internal/logger"
	"wsb-sentiment/internal/store"
)

// RunInfo describes a labeling run as it starts.
type RunInfo struct {
	Input       string
	Output      string
	ResumeMode  string
	SkippedRows int
}

// ChunkInfo describes one chunk appended to the output.
type ChunkInfo struct {
	Index   int
	Rows    int
	Labeled int
}

// Recorder keeps an audit trail of runs. The zero Pipeline uses a recorder
// that does nothing.
type Recorder interface {
	StartRun(ctx context.Context, run RunInfo) (string, error)
	RecordChunk(ctx context.Context, runID string, chunk ChunkInfo) error
	FinishRun(ctx context.Context, runID string, res *Result, runErr error) error
}

// Result summarizes a run.
type Result struct {
	RunID       string
	SkippedRows int
	Chunks      int
	Rows        int
	Labeled     int
	Calls       int
	// Complete is set once the input has been read to the end.
	Complete bool
}

// Pipeline drives chunked labeling from the input dataset to the output
// dataset. Chunks are processed strictly in input order by a single writer.
type Pipeline struct {
	cfg      *store.Config
	labeler  *Labeler
	recorder Recorder
	open     func(path string, chunkSize int) (*dataset.Reader, error)
}

func NewPipeline(cfg *store.Config, labeler *Labeler, recorder Recorder) *Pipeline {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{cfg: cfg, labeler: labeler, recorder: recorder, open: dataset.Open}
}

// CompleteRowsOnly makes every run ignore a final input line that has no
// newline yet. Watch mode uses it while the input is still being appended.
func (p *Pipeline) CompleteRowsOnly() {
	p.open = dataset.OpenComplete
}

// Run labels every input row not yet present in the output. It stops on a
// fatal classifier failure or an I/O error without writing the chunk in
// progress, so the output always ends on a complete chunk.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	op := logger.StartOperation(ctx, "labeling.Run",
		"input", p.cfg.InputPath,
		"output", p.cfg.OutputPath,
		"resume_mode", p.cfg.Resume.Mode,
	)
	ctx = op.GetContext()

	res, err := p.run(ctx)
	if err != nil {
		op.EndWithError(err)
		return res, err
	}
	op.End("chunks", res.Chunks, "rows", res.Rows, "labeled", res.Labeled, "complete", res.Complete)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	cfg := p.cfg
	res := &Result{}
	callsBefore := p.labeler.Calls()

	state, err := dataset.InspectOutput(cfg.OutputPath)
	if err != nil {
		return res, err
	}

	r, err := p.open(cfg.InputPath, cfg.ChunkSize)
	if err != nil {
		return res, err
	}
	defer r.Close()

	chunkIndex, firstChunkRows, err := p.skip(ctx, r, state)
	if err != nil {
		return res, err
	}
	res.SkippedRows = r.Rows()

	res.RunID, err = p.recorder.StartRun(ctx, RunInfo{
		Input:       cfg.InputPath,
		Output:      cfg.OutputPath,
		ResumeMode:  cfg.Resume.Mode,
		SkippedRows: res.SkippedRows,
	})
	if err != nil {
		logger.Warn(ctx, "Run ledger unavailable", "error", err.Error())
	}

	runErr := p.process(ctx, r, res, chunkIndex, firstChunkRows, !state.Exists)
	res.Calls = p.labeler.Calls() - callsBefore

	if res.RunID != "" {
		if err := p.recorder.FinishRun(ctx, res.RunID, res, runErr); err != nil {
			logger.Warn(ctx, "Failed to close run in ledger", "run_id", res.RunID, "error", err.Error())
		}
	}
	return res, runErr
}

// skip positions r after the rows already written. It returns the index of
// the next chunk and, after a mid-chunk stop, how many rows remain in it.
func (p *Pipeline) skip(ctx context.Context, r *dataset.Reader, state dataset.OutputState) (int, int, error) {
	size := p.cfg.ChunkSize

	if p.cfg.Resume.Mode == store.ResumeFixed {
		n := p.cfg.Resume.ChunksAlreadyProcessed
		if n > 0 && !state.Exists {
			logger.Warn(ctx, "Skipping chunks but output does not exist yet", "chunks", n, "output", p.cfg.OutputPath)
		}
		i := 0
		for ; i < n; i++ {
			if _, err := r.Next(); err == io.EOF {
				break
			} else if err != nil {
				return 0, 0, err
			}
			logger.Debug(ctx, "Skipping chunk", "chunk", i+1)
		}
		logger.Info(ctx, "Skipped already processed chunks", "chunks", i, "rows", r.Rows())
		return i, 0, nil
	}

	if state.Rows == 0 {
		return 0, 0, nil
	}
	skipped, err := r.Skip(state.Rows)
	if err != nil {
		return 0, 0, err
	}
	if skipped < state.Rows {
		return 0, 0, fmt.Errorf("%w: %s has %d rows but %s only %d",
			dataset.ErrCorruptOutput, p.cfg.OutputPath, state.Rows, p.cfg.InputPath, skipped)
	}

	remainder := 0
	if rem := skipped % size; rem != 0 {
		remainder = size - rem
	}
	logger.Info(ctx, "Resuming after rows already in output", "rows", skipped, "next_chunk", skipped/size+1)
	return skipped / size, remainder, nil
}

func (p *Pipeline) process(ctx context.Context, r *dataset.Reader, res *Result, chunkIndex, firstChunkRows int, header bool) error {
	cfg := p.cfg
	n := firstChunkRows

	for processed := 0; ; processed++ {
		if cfg.MaxChunks > 0 && processed >= cfg.MaxChunks {
			logger.Info(ctx, "Stopping after chunk limit", "max_chunks", cfg.MaxChunks)
			return nil
		}

		chunk, err := r.NextN(n)
		n = 0
		if err == io.EOF {
			res.Complete = true
			return nil
		}
		if err != nil {
			return err
		}

		labeled := 0
		for i := range chunk {
			row := res.SkippedRows + res.Rows + i + 1
			if err := p.labeler.LabelRow(ctx, row, &chunk[i]); err != nil {
				return fmt.Errorf("chunk %d row %d: %w", chunkIndex+1, row, err)
			}
			if chunk[i].HasLabel() {
				labeled++
			}
		}

		if err := dataset.AppendChunk(cfg.OutputPath, chunk, header); err != nil {
			return fmt.Errorf("write chunk %d: %w", chunkIndex+1, err)
		}
		header = false

		res.Chunks++
		res.Rows += len(chunk)
		res.Labeled += labeled

		s := summarize(chunk)
		logger.Chunk(ctx, chunkIndex, len(chunk), labeled, cfg.OutputPath,
			"sentiments", s.Sentiments,
			"top_reasons", s.Reasons,
			"top_tickers", s.Tickers,
		)

		if res.RunID != "" {
			if err := p.recorder.RecordChunk(ctx, res.RunID, ChunkInfo{Index: chunkIndex, Rows: len(chunk), Labeled: labeled}); err != nil {
				logger.Warn(ctx, "Failed to record chunk", "chunk", chunkIndex+1, "error", err.Error())
			}
		}
		chunkIndex++
	}
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, RunInfo) (string, error) { return "", nil }

func (nopRecorder) RecordChunk(context.Context, string, ChunkInfo) error { return nil }

func (nopRecorder) FinishRun(context.Context, string, *Result, error) error { return nil }
