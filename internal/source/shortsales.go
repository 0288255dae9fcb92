package source

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

// ShortSalesJob fetches the total short-sales report through the extractor
// service.
type ShortSalesJob struct {
	extractor *ExtractorClient
	timeout   time.Duration
	log       zerolog.Logger
}

// NewShortSalesJob creates the short sales job.
func NewShortSalesJob(extractor *ExtractorClient, timeout time.Duration, log zerolog.Logger) *ShortSalesJob {
	return &ShortSalesJob{
		extractor: extractor,
		timeout:   timeout,
		log:       log.With().Str("job", domain.DatasetShortSales.String()).Logger(),
	}
}

func (j *ShortSalesJob) Dataset() domain.Dataset { return domain.DatasetShortSales }
func (j *ShortSalesJob) Timeout() time.Duration  { return j.timeout }

// Fetch retrieves the short-sales report.
func (j *ShortSalesJob) Fetch(ctx context.Context) (*domain.RecordBatch, error) {
	tradeDate, rows, err := j.extractor.Extract(ctx, "short-sales")
	if err != nil {
		return nil, err
	}
	return domain.NewRecordBatch(j.Dataset(), tradeDate, rows), nil
}
