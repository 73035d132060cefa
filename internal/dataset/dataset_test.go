package dataset

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wsb-sentiment/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const headerless = `12,2021-01-27 10:00:00,GME squeeze,user1,/r/wsb/a,"to the moon, again"
5,2021-01-27 11:00:00,TSLA puts,user2,/r/wsb/b,
7.0,2021-01-28 09:00:00,Loss porn,user3,/r/wsb/c,"line one
line two"
-3,2021-01-29 12:00:00,AMC?,user4,/r/wsb/d,hold
`

func TestReaderHeaderlessChunks(t *testing.T) {
	path := writeFile(t, "raw.csv", headerless)
	r, err := Open(path, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.HasHeader {
		t.Error("Expected headerless input")
	}

	first, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(first))
	}
	if first[0].Score != "12" || first[0].Title != "GME squeeze" || first[0].Selftext != "to the moon, again" {
		t.Errorf("Unexpected first row: %+v", first[0])
	}
	if first[2].Score != "7.0" || first[2].Selftext != "line one\nline two" {
		t.Errorf("Unexpected third row: %+v", first[2])
	}

	second, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].Score != "-3" {
		t.Errorf("Expected one short final chunk, got %+v", second)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
	if r.Rows() != 4 {
		t.Errorf("Expected 4 rows consumed, got %d", r.Rows())
	}
}

func TestReaderWithHeaderByName(t *testing.T) {
	content := "title,score,selftext,date,author,permalink,sentiment,ai_reason,tickers\n" +
		"GME,10,moon,2021-01-27,u,/p,Positive,Bullish.,\"[\"\"GME\"\"]\"\n"
	r, err := Open(writeFile(t, "labeled.csv", content), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	rows, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasHeader {
		t.Error("Expected header to be detected")
	}
	p := rows[0]
	if p.Score != "10" || p.Title != "GME" || p.Sentiment != types.SentimentPositive || !p.Tickers.Contains("GME") {
		t.Errorf("Unexpected row: %+v", p)
	}
}

func TestReaderSkip(t *testing.T) {
	r, err := Open(writeFile(t, "raw.csv", headerless), 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	n, err := r.Skip(3)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 skipped, got %d (%v)", n, err)
	}
	rows, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Title != "AMC?" {
		t.Errorf("Expected the AMC row after skipping, got %+v", rows)
	}

	n, err = r.Skip(5)
	if err != nil || n != 0 {
		t.Errorf("Expected nothing left to skip, got %d (%v)", n, err)
	}
}

func TestOpenEmptyOrMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.csv"), 10); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput for missing file, got %v", err)
	}
	if _, err := Open(writeFile(t, "empty.csv", ""), 10); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput for empty file, got %v", err)
	}
	if _, err := Open(writeFile(t, "raw.csv", headerless), 0); err == nil {
		t.Error("Expected error for zero chunk size")
	}
}

func sampleLabeled() []types.LabeledPost {
	return []types.LabeledPost{
		{Score: "1", Date: "2021-01-27", Title: "GME", Author: "a", Permalink: "/1", Selftext: "moon, \"now\"",
			Sentiment: types.SentimentPositive, AIReason: "Bullish.", Tickers: types.TickerList{"GME"}},
		{Score: "2", Date: "2021-01-28", Title: "hello", Author: "b", Permalink: "/2", Tickers: types.TickerList{}},
		{Score: "3", Date: "2021-01-29", Title: "tsla amc", Author: "c", Permalink: "/3",
			Sentiment: types.SentimentNegative, AIReason: "Bearish.", Tickers: types.TickerList{"TSLA", "AMC"}},
	}
}

func TestAppendChunkWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "labeled.csv")
	rows := sampleLabeled()

	if err := AppendChunk(path, rows[:2], true); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := AppendChunk(path, rows[2:], false); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(b)
	if !strings.HasPrefix(content, "score,date,title,author,permalink,selftext,sentiment,ai_reason,tickers\n") {
		t.Errorf("Expected labeled header first, got %q", strings.SplitN(content, "\n", 2)[0])
	}
	if n := strings.Count(content, "score,date,title"); n != 1 {
		t.Errorf("Expected 1 header, got %d", n)
	}
	if !strings.Contains(content, `"[""AMC"",""TSLA""]"`) {
		t.Errorf("Expected sorted JSON tickers cell, got %q", content)
	}
	if !strings.Contains(content, ",[]\n") {
		t.Errorf("Expected empty ticker list serialized as [], got %q", content)
	}

	got, err := LoadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(got))
	}
	if got[0].Selftext != rows[0].Selftext || got[1].HasLabel() || got[2].AIReason != "Bearish." {
		t.Errorf("Unexpected rows after reload: %+v", got)
	}
}

func TestInspectOutput(t *testing.T) {
	dir := t.TempDir()

	st, err := InspectOutput(filepath.Join(dir, "missing.csv"))
	if err != nil || st.Exists || st.Rows != 0 {
		t.Errorf("Expected missing output to be empty state, got %+v (%v)", st, err)
	}

	path := filepath.Join(dir, "out.csv")
	if err := AppendChunk(path, sampleLabeled(), true); err != nil {
		t.Fatal(err)
	}
	st, err = InspectOutput(path)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Exists || st.Rows != 3 {
		t.Errorf("Expected 3 existing rows, got %+v", st)
	}

	// A torn final row has fewer fields than the header.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("4,2021-02-01,partial\n")
	f.Close()
	if _, err := InspectOutput(path); !errors.Is(err, ErrCorruptOutput) {
		t.Errorf("Expected ErrCorruptOutput for torn row, got %v", err)
	}

	wrong := writeFile(t, "wrong.csv", "a,b,c,d,e,f,g,h,i\n")
	if _, err := InspectOutput(wrong); !errors.Is(err, ErrCorruptOutput) {
		t.Errorf("Expected ErrCorruptOutput for foreign header, got %v", err)
	}
}

func TestAssignHeaders(t *testing.T) {
	in := writeFile(t, "raw.csv", headerless)
	out := filepath.Join(filepath.Dir(in), "raw_sentiment.csv")

	n, err := AssignHeaders(in, out, 2)
	if err != nil {
		t.Fatalf("AssignHeaders: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 4 rows, got %d", n)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.SplitN(string(b), "\n", 3)
	if lines[0] != "score,date,title,author,permalink,selftext,sentiment,ai_reason,tickers" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",,,") {
		t.Errorf("Expected empty labeling columns, got %q", lines[1])
	}

	if _, err := AssignHeaders(out, out, 2); err == nil {
		t.Error("Expected error when input already has a header")
	}
}

func TestAssignHeadersInPlace(t *testing.T) {
	in := writeFile(t, "raw.csv", headerless)
	if _, err := AssignHeaders(in, in, 10); err != nil {
		t.Fatalf("AssignHeaders: %v", err)
	}
	r, err := Open(in, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if !r.HasHeader {
		t.Error("Expected header after in-place assignment")
	}
	rows, err := r.Next()
	if err != nil || len(rows) != 4 {
		t.Errorf("Expected 4 rows, got %d (%v)", len(rows), err)
	}
	if _, err := os.Stat(in + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temporary file to be gone")
	}
}

func TestReaderHeaderWithBOM(t *testing.T) {
	content := "\ufeffscore,date,title,author,permalink,selftext\n" +
		"42,2021-01-27,GME,u,/p,moon\n"
	r, err := Open(writeFile(t, "bom.csv", content), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if !r.HasHeader {
		t.Fatal("Expected header with a byte order mark to be detected")
	}
	rows, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Score != "42" || rows[0].Title != "GME" {
		t.Errorf("Unexpected rows: %+v", rows)
	}
}

func TestScoreKeptVerbatim(t *testing.T) {
	in := writeFile(t, "raw.csv", "12.5,2021-01-27,GME,u,/a,x\nn/a,2021-01-28,AMC,u,/b,y\n")
	out := filepath.Join(t.TempDir(), "out.csv")
	if _, err := AssignHeaders(in, out, 10); err != nil {
		t.Fatalf("AssignHeaders: %v", err)
	}
	rows, err := LoadAll(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Score != "12.5" || rows[1].Score != "n/a" {
		t.Errorf("Expected scores 12.5 and n/a, got %+v", rows)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "\n12.5,2021-01-27,GME,") {
		t.Errorf("Expected the raw score in the output, got %q", b)
	}
}

func TestOpenCompleteLeavesUnterminatedRow(t *testing.T) {
	content := headerless + "9,2021-01-30 08:00:00,GME half,user5,/r/wsb/e,still typ"
	path := writeFile(t, "growing.csv", content)

	r, err := OpenComplete(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := r.Next()
	r.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 || rows[3].Title != "AMC?" {
		t.Errorf("Expected the 4 complete rows, got %d: %+v", len(rows), rows)
	}

	r, err = Open(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rows, err = r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Errorf("Expected Open to read all 5 rows, got %d", len(rows))
	}
}

func TestOpenCompleteWithoutNewline(t *testing.T) {
	if _, err := OpenComplete(writeFile(t, "partial.csv", "1,2021-01-27,GME"), 10); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput before the first row is complete, got %v", err)
	}
}
