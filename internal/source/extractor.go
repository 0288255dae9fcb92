package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

// ExtractorClient talks to the extractor service, a separate process that
// drives a headless browser to download the exchange's NVDR and short-sales
// spreadsheets and returns the parsed rows as JSON. Keeping the browser out
// of this process keeps the engine small and restartable.
type ExtractorClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewExtractorClient creates a client for the extractor service.
func NewExtractorClient(baseURL string, log zerolog.Logger) *ExtractorClient {
	return &ExtractorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
		log:     log.With().Str("client", "extractor").Logger(),
	}
}

// extractResponse is the extractor service's reply for one report.
type extractResponse struct {
	TradeDate string           `json:"trade_date"`
	Rows      []map[string]any `json:"rows"`
}

// Extract fetches one report kind ("nvdr" or "short-sales") and returns the
// normalized rows with the business date the spreadsheet declares.
func (c *ExtractorClient) Extract(ctx context.Context, kind string) (time.Time, []domain.Row, error) {
	url := fmt.Sprintf("%s/extract/%s", c.baseURL, kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return time.Time{}, nil, domain.FetchError(fmt.Errorf("build request for %s: %w", url, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, nil, domain.FetchError(fmt.Errorf("extractor %s: %w", kind, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return time.Time{}, nil, domain.FetchError(
			fmt.Errorf("extractor %s: status %d: %s", kind, resp.StatusCode, string(body)))
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return time.Time{}, nil, domain.ParseError(fmt.Errorf("extractor %s: decode response: %w", kind, err))
	}

	tradeDate, err := time.Parse(domain.TradeDateLayout, parsed.TradeDate)
	if err != nil {
		return time.Time{}, nil, domain.ParseError(
			fmt.Errorf("extractor %s: malformed trade_date %q: %w", kind, parsed.TradeDate, err))
	}

	rows := make([]domain.Row, len(parsed.Rows))
	for i, r := range parsed.Rows {
		rows[i] = domain.Row(r)
	}

	c.log.Debug().Str("kind", kind).Str("trade_date", parsed.TradeDate).Int("rows", len(rows)).
		Msg("Extractor report received")
	return tradeDate, rows, nil
}
