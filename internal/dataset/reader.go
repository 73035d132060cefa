package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"wsb-sentiment/internal/types"
)

// ErrEmptyInput is returned when the input dataset is missing or has no rows.
var ErrEmptyInput = errors.New("input dataset is missing or empty")

// PostColumns is the column order of the raw dump.
var PostColumns = []string{"score", "date", "title", "author", "permalink", "selftext"}

// LabeledColumns is the column order of the labeled dataset.
var LabeledColumns = append(append([]string{}, PostColumns...), "sentiment", "ai_reason", "tickers")

// Reader streams a posts CSV in fixed-size chunks. Headerless files are
// read positionally; files with a header row are read by column name.
type Reader struct {
	f         *os.File
	r         *csv.Reader
	index     map[string]int
	chunkSize int
	pending   []string
	rows      int
	HasHeader bool
}

// Open opens path for chunked reading.
func Open(path string, chunkSize int) (*Reader, error) {
	return open(path, chunkSize, false)
}

// OpenComplete is Open for a file that may still be growing: a final line
// without its newline is left unread.
func OpenComplete(path string, chunkSize int) (*Reader, error) {
	return open(path, chunkSize, true)
}

func open(path string, chunkSize int, completeOnly bool) (*Reader, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrEmptyInput, path)
		}
		return nil, err
	}

	var src io.Reader = f
	if completeOnly {
		n, err := terminatedLength(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		src = io.LimitReader(f, n)
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	first, err := cr.Read()
	if err == io.EOF {
		f.Close()
		return nil, fmt.Errorf("%w: %s has no rows", ErrEmptyInput, path)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	rd := &Reader{f: f, r: cr, chunkSize: chunkSize}
	if isHeader(first) {
		rd.HasHeader = true
		rd.index = make(map[string]int, len(first))
		for i, name := range first {
			rd.index[normalizeName(name)] = i
		}
	} else {
		rd.index = make(map[string]int, len(LabeledColumns))
		for i, name := range LabeledColumns {
			rd.index[name] = i
		}
		rd.pending = first
	}
	return rd, nil
}

// terminatedLength returns the length of f up to and including its last
// newline.
func terminatedLength(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 4096)
	for end := info.Size(); end > 0; {
		start := max(end-int64(len(buf)), 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
}

func isHeader(rec []string) bool {
	var hasScore, hasTitle bool
	for _, f := range rec {
		switch normalizeName(f) {
		case "score":
			hasScore = true
		case "title":
			hasTitle = true
		}
	}
	return hasScore && hasTitle
}

func (r *Reader) Close() error {
	return r.f.Close()
}

// Rows returns how many data rows have been consumed so far.
func (r *Reader) Rows() int {
	return r.rows
}

func (r *Reader) read() ([]string, error) {
	if r.pending != nil {
		rec := r.pending
		r.pending = nil
		return rec, nil
	}
	return r.r.Read()
}

// Next returns the next chunk, or io.EOF once the input is exhausted. The
// final chunk may be shorter than the chunk size.
func (r *Reader) Next() ([]types.LabeledPost, error) {
	return r.NextN(r.chunkSize)
}

// NextN is Next with an explicit row limit. It is used to realign chunk
// boundaries after resuming mid-chunk.
func (r *Reader) NextN(n int) ([]types.LabeledPost, error) {
	if n <= 0 {
		n = r.chunkSize
	}
	chunk := make([]types.LabeledPost, 0, n)
	for len(chunk) < n {
		rec, err := r.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", r.rows+1, err)
		}
		r.rows++
		chunk = append(chunk, r.decode(rec))
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

// Skip discards up to n rows and returns how many were skipped.
func (r *Reader) Skip(n int) (int, error) {
	skipped := 0
	for skipped < n {
		_, err := r.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, fmt.Errorf("read row %d: %w", r.rows+1, err)
		}
		r.rows++
		skipped++
	}
	return skipped, nil
}

func (r *Reader) field(rec []string, name string) string {
	i, ok := r.index[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func (r *Reader) decode(rec []string) types.LabeledPost {
	return types.LabeledPost{
		Score:     r.field(rec, "score"),
		Date:      r.field(rec, "date"),
		Title:     r.field(rec, "title"),
		Author:    r.field(rec, "author"),
		Permalink: r.field(rec, "permalink"),
		Selftext:  r.field(rec, "selftext"),
		Sentiment: r.field(rec, "sentiment"),
		AIReason:  r.field(rec, "ai_reason"),
		Tickers:   types.ParseTickerList(r.field(rec, "tickers")),
	}
}

// LoadAll reads the whole dataset into memory.
func LoadAll(path string) ([]types.LabeledPost, error) {
	r, err := Open(path, 1000)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var all []types.LabeledPost
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}
}
