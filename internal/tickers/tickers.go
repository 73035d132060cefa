package tickers

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

// ErrMalformedTickerFile is returned when a line of the ticker list is not
// a usable symbol.
var ErrMalformedTickerFile = errors.New("malformed ticker file")

var symbolRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]*$`)

// Set is an ordered, immutable collection of distinct lowercase tickers with
// one compiled matcher per symbol.
type Set struct {
	symbols  []string
	patterns []*regexp.Regexp
}

// NewSet builds a Set from symbols. Symbols are lowercased and deduplicated
// keeping first occurrence order.
func NewSet(symbols []string) (*Set, error) {
	s := &Set{}
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		sym := strings.ToLower(strings.TrimSpace(raw))
		if sym == "" || seen[sym] {
			continue
		}
		if !symbolRe.MatchString(sym) {
			return nil, fmt.Errorf("%w: invalid symbol %q", ErrMalformedTickerFile, raw)
		}
		seen[sym] = true
		s.symbols = append(s.symbols, sym)
		s.patterns = append(s.patterns, compile(sym))
	}
	return s, nil
}

// A ticker counts when it stands alone: preceded by whitespace, an opening
// bracket, a quote or the start of text (optionally with a $ or # prefix)
// and not followed by a letter, digit or underscore. RE2's \s and \b are
// ASCII-only, so Unicode spaces and word characters are spelled out.
func compile(sym string) *regexp.Regexp {
	return regexp.MustCompile(`(?:[\s\v\x{1c}-\x{1f}\x{85}\p{Z}(\["']|^)[$#]?` +
		regexp.QuoteMeta(sym) + `(?:[^\pL\pN_]|$)`)
}

// Load reads a ticker list: one symbol per line, case-insensitive, blank
// lines and # comments ignored.
func Load(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ticker file: %w", err)
	}
	defer f.Close()

	s, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Read parses a ticker list from r.
func Read(r io.Reader) (*Set, error) {
	var symbols []string
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !symbolRe.MatchString(strings.ToLower(line)) {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformedTickerFile, lineNo, line)
		}
		symbols = append(symbols, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTickerFile, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", ErrMalformedTickerFile)
	}
	return NewSet(symbols)
}

// Symbols returns the lowercase symbols in load order.
func (s *Set) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

func (s *Set) Len() int {
	return len(s.symbols)
}

// Match returns the tickers found in text, uppercased and sorted. text is
// expected to be lowercased already.
func (s *Set) Match(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	found := []string{}
	for i, sym := range s.symbols {
		if !strings.Contains(text, sym) {
			continue
		}
		if s.patterns[i].MatchString(text) {
			found = append(found, strings.ToUpper(sym))
		}
	}
	sort.Strings(found)
	return found
}

// CombinedText joins title and selftext the way the matcher expects them.
func CombinedText(title, selftext string) string {
	return strings.ToLower(title) + " " + strings.ToLower(selftext)
}

// Write stores symbols, uppercased, one per line.
func Write(w io.Writer, symbols []string) error {
	bw := bufio.NewWriter(w)
	for _, sym := range symbols {
		if _, err := fmt.Fprintln(bw, strings.ToUpper(sym)); err != nil {
			return err
		}
	}
	return bw.Flush()
}
