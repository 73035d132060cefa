package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"wsb-sentiment/internal/labeling"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusAborted   = "aborted"
)

// Ledger records labeling runs, the chunks they wrote and cached labels in
// SQLite.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface check
var _ labeling.Recorder = (*Ledger)(nil)

func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the pipeline and the cache.
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger %s: %w", path, err)
	}
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			input_path TEXT,
			output_path TEXT,
			resume_mode TEXT,
			skipped_rows INTEGER,
			status TEXT,
			chunks INTEGER DEFAULT 0,
			rows_processed INTEGER DEFAULT 0,
			rows_labeled INTEGER DEFAULT 0,
			calls INTEGER DEFAULT 0,
			last_error TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			run_id TEXT,
			chunk_index INTEGER,
			rows_written INTEGER,
			rows_labeled INTEGER,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_run ON chunks(run_id);`,
		`CREATE TABLE IF NOT EXISTS labels (
			cache_key TEXT PRIMARY KEY,
			model TEXT,
			sentiment TEXT,
			ai_reason TEXT,
			created_at TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Run is one row of the runs table.
type Run struct {
	ID          string
	Input       string
	Output      string
	ResumeMode  string
	SkippedRows int
	Status      string
	Chunks      int
	Rows        int
	Labeled     int
	Calls       int
	LastError   string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// ChunkRecord is one row of the chunks table.
type ChunkRecord struct {
	Index     int
	Rows      int
	Labeled   int
	CreatedAt time.Time
}

func (l *Ledger) StartRun(ctx context.Context, run labeling.RunInfo) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx, `INSERT INTO runs(run_id, input_path, output_path, resume_mode, skipped_rows, status, started_at)
		VALUES(?,?,?,?,?,?,?)`, id, run.Input, run.Output, run.ResumeMode, run.SkippedRows, StatusRunning, l.now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (l *Ledger) RecordChunk(ctx context.Context, runID string, chunk labeling.ChunkInfo) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO chunks(run_id, chunk_index, rows_written, rows_labeled, created_at) VALUES(?,?,?,?,?)`,
		runID, chunk.Index, chunk.Rows, chunk.Labeled, l.now().UTC())
	return err
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, res *labeling.Result, runErr error) error {
	status := StatusCompleted
	var lastErr *string
	switch {
	case runErr != nil:
		status = StatusAborted
		msg := runErr.Error()
		lastErr = &msg
	case !res.Complete:
		status = StatusPartial
	}
	// The pipeline may have been cancelled; the final status still has to land.
	ctx = context.WithoutCancel(ctx)
	_, err := l.db.ExecContext(ctx, `UPDATE runs SET status=?, chunks=?, rows_processed=?, rows_labeled=?, calls=?, last_error=?, finished_at=? WHERE run_id=?`,
		status, res.Chunks, res.Rows, res.Labeled, res.Calls, lastErr, l.now().UTC(), runID)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, input_path, output_path, resume_mode, skipped_rows, status, chunks,
		rows_processed, rows_labeled, calls, last_error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var lastErr sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Input, &r.Output, &r.ResumeMode, &r.SkippedRows, &r.Status, &r.Chunks,
			&r.Rows, &r.Labeled, &r.Calls, &lastErr, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.LastError = lastErr.String
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Chunks returns the chunks recorded for a run in write order.
func (l *Ledger) Chunks(ctx context.Context, runID string) ([]ChunkRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT chunk_index, rows_written, rows_labeled, created_at FROM chunks WHERE run_id=? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.Index, &c.Rows, &c.Labeled, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
