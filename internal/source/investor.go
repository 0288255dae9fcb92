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

const investorPageURL = "https://www.set.or.th/en/market/statistics/investor-type?market=SET"

// InvestorFlowJob scrapes the investor-type trading summary: four investor
// classes, each with buy/sell/net figures over three reporting periods.
type InvestorFlowJob struct {
	client   *http.Client
	proxyURL string
	timeout  time.Duration
	log      zerolog.Logger
}

// NewInvestorFlowJob creates the investor flow job.
func NewInvestorFlowJob(client *http.Client, proxyURL string, timeout time.Duration, log zerolog.Logger) *InvestorFlowJob {
	return &InvestorFlowJob{
		client:   client,
		proxyURL: proxyURL,
		timeout:  timeout,
		log:      log.With().Str("job", domain.DatasetInvestorFlow.String()).Logger(),
	}
}

func (j *InvestorFlowJob) Dataset() domain.Dataset { return domain.DatasetInvestorFlow }
func (j *InvestorFlowJob) Timeout() time.Duration  { return j.timeout }

// Fetch retrieves the investor-type page and extracts the summary table.
func (j *InvestorFlowJob) Fetch(ctx context.Context) (*domain.RecordBatch, error) {
	doc, err := fetchDocument(ctx, j.client, j.proxyURL, investorPageURL)
	if err != nil {
		return nil, err
	}

	table := tableWithHeader(doc, "Investor Type")
	if table == nil {
		return nil, domain.ParseError(fmt.Errorf("investor type table not found on %s", investorPageURL))
	}

	rows := parseInvestorTable(table)
	if len(rows) == 0 {
		return nil, domain.ParseError(fmt.Errorf("investor type table on %s yielded no rows", investorPageURL))
	}

	j.log.Debug().Int("rows", len(rows)).Msg("Investor table parsed")
	return domain.NewRecordBatch(j.Dataset(), currentTradeDate(time.Now()), rows), nil
}

// parseInvestorTable extracts investor rows. Cell layout after the type
// column is three periods of (buy value, buy %, sell value, sell %, net).
func parseInvestorTable(table *goquery.Selection) []domain.Row {
	var rows []domain.Row
	table.Find("tbody tr, tr").Each(func(_ int, tr *goquery.Selection) {
		cells := cellTexts(tr)
		if len(cells) < 16 {
			return
		}
		investorType := strings.TrimSpace(cells[0])
		if investorType == "" || strings.EqualFold(investorType, "Investor Type") {
			return
		}
		row := domain.Row{"investor_type": investorType}
		for period := 0; period < 3; period++ {
			base := 1 + period*5
			prefix := fmt.Sprintf("period%d_", period+1)
			row[prefix+"buy_value"] = parseNumber(cells[base])
			row[prefix+"buy_percent"] = parseNumber(cells[base+1])
			row[prefix+"sell_value"] = parseNumber(cells[base+2])
			row[prefix+"sell_percent"] = parseNumber(cells[base+3])
			row[prefix+"net_value"] = parseNumber(cells[base+4])
		}
		rows = append(rows, row)
	})
	return rows
}
