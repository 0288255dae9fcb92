package domain

import "time"

// TradeDateLayout is the canonical storage format for trade dates.
const TradeDateLayout = "2006-01-02"

// Row is one normalized record of a batch: a flat column→value map matching
// the dataset's column contract. Values are strings, numbers, or nil.
type Row map[string]any

// RecordBatch is the normalized output of one successful source job run.
// TradeDate is the business date the data describes, not the fetch time.
// A batch is immutable after creation: the job runner builds it, the store
// adapter consumes it exactly once.
type RecordBatch struct {
	Dataset   Dataset
	TradeDate time.Time
	Rows      []Row
	FetchedAt time.Time
}

// NewRecordBatch builds a batch stamped with the current fetch time.
func NewRecordBatch(dataset Dataset, tradeDate time.Time, rows []Row) *RecordBatch {
	return &RecordBatch{
		Dataset:   dataset,
		TradeDate: tradeDate,
		Rows:      rows,
		FetchedAt: time.Now(),
	}
}

// TradeDateString returns the trade date in storage format.
func (b *RecordBatch) TradeDateString() string {
	return b.TradeDate.Format(TradeDateLayout)
}
