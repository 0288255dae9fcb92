package source

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

// NVDRJob fetches the NVDR trading-by-stock report through the extractor
// service. The spreadsheet itself declares the business date, so the batch
// may describe yesterday when the exchange has not published today's file.
type NVDRJob struct {
	extractor *ExtractorClient
	timeout   time.Duration
	log       zerolog.Logger
}

// NewNVDRJob creates the NVDR trading job.
func NewNVDRJob(extractor *ExtractorClient, timeout time.Duration, log zerolog.Logger) *NVDRJob {
	return &NVDRJob{
		extractor: extractor,
		timeout:   timeout,
		log:       log.With().Str("job", domain.DatasetNVDR.String()).Logger(),
	}
}

func (j *NVDRJob) Dataset() domain.Dataset { return domain.DatasetNVDR }
func (j *NVDRJob) Timeout() time.Duration  { return j.timeout }

// Fetch retrieves the NVDR report.
func (j *NVDRJob) Fetch(ctx context.Context) (*domain.RecordBatch, error) {
	tradeDate, rows, err := j.extractor.Extract(ctx, "nvdr")
	if err != nil {
		return nil, err
	}
	return domain.NewRecordBatch(j.Dataset(), tradeDate, rows), nil
}
