package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"wsb-sentiment/internal/types"
)

// ErrCorruptOutput is returned when an existing output file cannot be
// trusted as a resume point.
var ErrCorruptOutput = errors.New("output dataset is inconsistent")

// OutputState describes what an earlier run already wrote.
type OutputState struct {
	Exists bool // a header row is present
	Rows   int  // data rows after the header
}

// InspectOutput counts the labeled rows already in path. A missing or
// zero-length file is reported as not existing. Any row that does not have
// exactly the labeled column count (e.g. a torn final write) is an error.
func InspectOutput(path string) (OutputState, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return OutputState{}, nil
	}
	if err != nil {
		return OutputState{}, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(LabeledColumns)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return OutputState{}, nil
	}
	if err != nil {
		return OutputState{}, fmt.Errorf("%w: %s header: %v", ErrCorruptOutput, path, err)
	}
	for i, name := range LabeledColumns {
		if normalizeName(header[i]) != name {
			return OutputState{}, fmt.Errorf("%w: %s column %d is %q, want %q", ErrCorruptOutput, path, i+1, header[i], name)
		}
	}

	st := OutputState{Exists: true}
	for {
		_, err := cr.Read()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return OutputState{}, fmt.Errorf("%w: %s after row %d: %v", ErrCorruptOutput, path, st.Rows, err)
		}
		st.Rows++
	}
}

// AppendChunk writes rows to path in a single write. With header set the
// file is created (or truncated) and the column header written first;
// otherwise rows are appended.
func AppendChunk(path string, rows []types.LabeledPost, header bool) error {
	var buf bytes.Buffer
	var err error
	if header {
		err = gocsv.Marshal(&rows, &buf)
	} else {
		err = gocsv.MarshalWithoutHeaders(&rows, &buf)
	}
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if header {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// AssignHeaders converts a headerless raw dump into a labeled dataset with
// empty sentiment, ai_reason and tickers columns. With out == in the file
// is replaced atomically. It returns the number of rows written.
func AssignHeaders(in, out string, chunkSize int) (int, error) {
	r, err := Open(in, chunkSize)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	if r.HasHeader {
		return 0, fmt.Errorf("%s already has a header row", in)
	}

	target := out
	if out == in {
		target = out + ".tmp"
	}

	total := 0
	first := true
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			os.Remove(target)
			return 0, err
		}
		for i := range chunk {
			chunk[i].Sentiment, chunk[i].AIReason, chunk[i].Tickers = "", "", nil
		}
		if err := writeBlank(target, chunk, first); err != nil {
			os.Remove(target)
			return 0, err
		}
		first = false
		total += len(chunk)
	}

	if target != out {
		r.Close()
		if err := os.Rename(target, out); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// blankPost matches the labeled layout but leaves the tickers cell empty
// instead of "[]", marking the row as not yet processed.
type blankPost struct {
	types.Post
	Sentiment string `csv:"sentiment"`
	AIReason  string `csv:"ai_reason"`
	Tickers   string `csv:"tickers"`
}

func writeBlank(path string, chunk []types.LabeledPost, header bool) error {
	rows := make([]blankPost, len(chunk))
	for i, p := range chunk {
		rows[i] = blankPost{Post: p.Post()}
	}
	var buf bytes.Buffer
	var err error
	if header {
		err = gocsv.Marshal(&rows, &buf)
	} else {
		err = gocsv.MarshalWithoutHeaders(&rows, &buf)
	}
	if err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if header {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(buf.Bytes())
	return err
}
