package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

const sectorBaseURL = "https://www.set.or.th/en/market/index/set"

// sectorSlugs are the industry group pages scraped for constituents.
var sectorSlugs = []string{
	"agro", "consump", "fincial", "indus",
	"propcon", "resourc", "service", "tech",
}

// SectorJob scrapes the constituent quote tables of every industry group
// page and merges them into one batch. A failed sector page fails the whole
// job: a partial sector snapshot would look like delistings downstream.
type SectorJob struct {
	client   *http.Client
	proxyURL string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewSectorJob creates the sector constituents job.
func NewSectorJob(client *http.Client, proxyURL string, timeout time.Duration, log zerolog.Logger) *SectorJob {
	return &SectorJob{
		client:   client,
		proxyURL: proxyURL,
		timeout:  timeout,
		log:      log.With().Str("job", domain.DatasetSectors.String()).Logger(),
	}
}

func (j *SectorJob) Dataset() domain.Dataset { return domain.DatasetSectors }
func (j *SectorJob) Timeout() time.Duration  { return j.timeout }

// Fetch retrieves every sector page sequentially and merges the rows.
func (j *SectorJob) Fetch(ctx context.Context) (*domain.RecordBatch, error) {
	var rows []domain.Row
	for _, sector := range sectorSlugs {
		url := sectorBaseURL + "/" + sector
		doc, err := fetchDocument(ctx, j.client, j.proxyURL, url)
		if err != nil {
			return nil, err
		}

		table := tableWithHeader(doc, "Symbol")
		if table == nil {
			return nil, domain.ParseError(fmt.Errorf("constituent table not found on %s", url))
		}

		sectorRows := parseSectorTable(table, sector)
		if len(sectorRows) == 0 {
			return nil, domain.ParseError(fmt.Errorf("constituent table on %s yielded no rows", url))
		}
		j.log.Debug().Str("sector", sector).Int("rows", len(sectorRows)).Msg("Sector page parsed")
		rows = append(rows, sectorRows...)
	}

	return domain.NewRecordBatch(j.Dataset(), currentTradeDate(time.Now()), rows), nil
}

// parseSectorTable extracts constituent quotes. Expected cell layout:
// Symbol | Open | High | Low | Last | Change | % Change | Bid | Offer |
// Volume (Shares) | Value ('000 Baht).
func parseSectorTable(table *goquery.Selection, sector string) []domain.Row {
	var rows []domain.Row
	table.Find("tbody tr, tr").Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) < 11 {
			return
		}
		symbol := strings.TrimSpace(cells[0])
		if symbol == "" || strings.EqualFold(symbol, "Symbol") {
			return
		}
		rows = append(rows, domain.Row{
			"symbol":         symbol,
			"sector":         sector,
			"open_price":     parseNumber(cells[1]),
			"high_price":     parseNumber(cells[2]),
			"low_price":      parseNumber(cells[3]),
			"last_price":     parseNumber(cells[4]),
			"change":         cells[5],
			"percent_change": cells[6],
			"bid":            cells[7],
			"offer":          cells[8],
			"volume_shares":  parseInteger(cells[9]),
			"value_baht":     parseNumber(cells[10]),
		})
	})
	return rows
}
