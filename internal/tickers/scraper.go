package tickers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"wsb-sentiment/internal/logger"
)

// Scraper builds a ticker list from an HTML listing page, e.g. a table of
// exchange-listed symbols.
type Scraper struct {
	selector string
	timeout  time.Duration
}

// NewScraper returns a scraper collecting the text of every element matched
// by selector.
func NewScraper(selector string, timeout time.Duration) *Scraper {
	return &Scraper{selector: selector, timeout: timeout}
}

// Scrape visits sourceURL and returns the distinct symbols found, in page
// order. Cells that are not plausible symbols are skipped.
func (s *Scraper) Scrape(ctx context.Context, sourceURL string) ([]string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid ticker source url %q", sourceURL)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(u.Hostname()),
		colly.MaxDepth(1),
		colly.Async(false),
	)
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
		r.Headers.Set("User-Agent", "Mozilla/5.0 (compatible; wsb-sentiment/1.0)")
	})

	var symbols []string
	seen := map[string]bool{}
	skipped := 0
	c.OnHTML(s.selector, func(e *colly.HTMLElement) {
		// Listing pages often carry a company name next to the symbol.
		fields := strings.Fields(e.Text)
		if len(fields) == 0 {
			return
		}
		sym := strings.ToLower(strings.TrimPrefix(fields[0], "$"))
		if !symbolRe.MatchString(sym) {
			skipped++
			return
		}
		if seen[sym] {
			return
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("fetch %s: status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(sourceURL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", sourceURL, err)
	}
	c.Wait()

	if visitErr != nil {
		return nil, visitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Ticker page scraped", "url", sourceURL, "symbols", len(symbols), "skipped", skipped)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols matched selector %q at %s", s.selector, sourceURL)
	}
	return symbols, nil
}
