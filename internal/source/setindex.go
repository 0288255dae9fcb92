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

const indexPageURL = "https://www.set.or.th/en/home"

// IndexJob scrapes the index summary table from the exchange home page.
// One row per index (SET, SET50, SET100, sSET, MAI, ...).
type IndexJob struct {
	client   *http.Client
	proxyURL string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewIndexJob creates the index summary job.
func NewIndexJob(client *http.Client, proxyURL string, timeout time.Duration, log zerolog.Logger) *IndexJob {
	return &IndexJob{
		client:   client,
		proxyURL: proxyURL,
		timeout:  timeout,
		log:      log.With().Str("job", domain.DatasetIndex.String()).Logger(),
	}
}

func (j *IndexJob) Dataset() domain.Dataset { return domain.DatasetIndex }
func (j *IndexJob) Timeout() time.Duration  { return j.timeout }

// Fetch retrieves the home page and extracts the index table.
func (j *IndexJob) Fetch(ctx context.Context) (*domain.RecordBatch, error) {
	doc, err := fetchDocument(ctx, j.client, j.proxyURL, indexPageURL)
	if err != nil {
		return nil, err
	}

	table := tableWithHeader(doc, "Index")
	if table == nil {
		return nil, domain.ParseError(fmt.Errorf("index table not found on %s", indexPageURL))
	}

	rows := parseIndexTable(table)
	if len(rows) == 0 {
		return nil, domain.ParseError(fmt.Errorf("index table on %s yielded no rows", indexPageURL))
	}

	j.log.Debug().Int("rows", len(rows)).Msg("Index table parsed")
	return domain.NewRecordBatch(j.Dataset(), currentTradeDate(time.Now()), rows), nil
}

// parseIndexTable extracts rows from the index summary table. Expected cell
// layout: Index | Last | Change | Volume ('000 shares) | Value (M.Baht).
func parseIndexTable(table *goquery.Selection) []domain.Row {
	var rows []domain.Row
	table.Find("tbody tr, tr").Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) < 5 {
			return
		}
		name := strings.TrimSpace(cells[0])
		if name == "" || strings.EqualFold(name, "Index") {
			return
		}
		changeText := cells[2]
		rows = append(rows, domain.Row{
			"index_name":         name,
			"last_value":         parseNumber(cells[1]),
			"change_value":       parseNumber(changeText),
			"change_text":        changeText,
			"volume_thousands":   parseInteger(cells[3]),
			"value_million_baht": parseNumber(cells[4]),
		})
	})
	return rows
}
