package refresh

import (
	"github.com/prasertk/setpulse/internal/config"
	"github.com/prasertk/setpulse/internal/domain"
)

// Completeness rejects batches that are too small to plausibly be a full
// snapshot. A truncated sector page or a spreadsheet cut off mid-download
// must not replace a good baseline, so an incomplete batch fails the dataset
// and the previous data stays authoritative.
type Completeness struct {
	minRows map[domain.Dataset]int
}

// NewCompleteness builds the per-dataset predicates from config thresholds.
func NewCompleteness(datasets map[domain.Dataset]config.DatasetConfig) *Completeness {
	minRows := make(map[domain.Dataset]int, len(datasets))
	for ds, dc := range datasets {
		minRows[ds] = dc.MinRows
	}
	return &Completeness{minRows: minRows}
}

// Check returns an incomplete-data error when the batch is below the
// dataset's minimum row count. Datasets without a threshold always pass.
func (c *Completeness) Check(batch *domain.RecordBatch) *domain.JobError {
	min, ok := c.minRows[batch.Dataset]
	if !ok || min <= 0 {
		return nil
	}
	if len(batch.Rows) < min {
		return domain.NewJobError(domain.ErrIncompleteData,
			"%s batch for %s has %d rows, need at least %d",
			batch.Dataset, batch.TradeDateString(), len(batch.Rows), min)
	}
	return nil
}
