// Package source implements the fetch boundary of the refresh engine.
//
// Each dataset has one Job. Jobs fetch raw data from the exchange website
// (HTML pages parsed with goquery) or from the extractor service (which
// renders the spreadsheet-backed reports and returns JSON), normalize it,
// and hand back a RecordBatch. Jobs never touch the store.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/prasertk/setpulse/internal/domain"
)

// Job fetches and normalizes one dataset.
type Job interface {
	// Dataset identifies which dataset this job produces.
	Dataset() domain.Dataset
	// Timeout is the per-run deadline the runner applies around Fetch.
	Timeout() time.Duration
	// Fetch retrieves the dataset and returns a normalized batch. Errors
	// should be domain.JobError values so the runner can classify them.
	Fetch(ctx context.Context) (*domain.RecordBatch, error)
}

// exchangeTZ is the market's local timezone; trade dates for live pages are
// the current date there.
var exchangeTZ = mustLoadLocation("Asia/Bangkok")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// tzdata not available: fall back to fixed UTC+7, which the
		// exchange has used without DST since its founding.
		return time.FixedZone("ICT", 7*3600)
	}
	return loc
}

// currentTradeDate returns today's date in exchange-local time, truncated
// to midnight UTC for stable storage formatting.
func currentTradeDate(now time.Time) time.Time {
	local := now.In(exchangeTZ)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// fetchDocument GETs a market page, optionally through a reader proxy, and
// parses it. All failures come back as fetch-kind job errors.
func fetchDocument(ctx context.Context, client *http.Client, proxyURL, targetURL string) (*goquery.Document, error) {
	url := targetURL
	if proxyURL != "" {
		url = strings.TrimSuffix(proxyURL, "/") + "/" + targetURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.FetchError(fmt.Errorf("build request for %s: %w", targetURL, err))
	}
	req.Header.Set("User-Agent", "setpulse/1.0")
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.FetchError(fmt.Errorf("get %s: %w", targetURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, domain.FetchError(fmt.Errorf("get %s: unexpected status %d", targetURL, resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, domain.ParseError(fmt.Errorf("parse %s: %w", targetURL, err))
	}
	return doc, nil
}

// tableWithHeader finds the first table whose header row contains the given
// column label.
func tableWithHeader(doc *goquery.Document, label string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		match := false
		table.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
			if strings.EqualFold(strings.TrimSpace(th.Text()), label) {
				match = true
				return false
			}
			return true
		})
		if match {
			found = table
			return false
		}
		return true
	})
	return found
}

// cellTexts returns the trimmed text of each td in a row.
func cellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(td.Text()))
	})
	return cells
}
