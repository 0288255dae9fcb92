package domain

import "time"

// FreshnessStatus is the lifecycle state of a dataset's freshness record.
type FreshnessStatus string

const (
	// StatusActive means the dataset's latest ingest succeeded and the
	// stored data for latest_trade_date is complete.
	StatusActive FreshnessStatus = "active"
	// StatusProcessing means a refresh cycle currently has the dataset
	// in flight.
	StatusProcessing FreshnessStatus = "processing"
	// StatusError means the most recent attempt failed; latest_trade_date
	// still points at the last known good data.
	StatusError FreshnessStatus = "error"
)

// FreshnessRecord is the engine's durable record of "what is the newest
// complete data we have" for one dataset. LatestTradeDate only moves
// forward; it never regresses except through operator intervention.
type FreshnessRecord struct {
	Dataset          Dataset         `json:"dataset"`
	LatestTradeDate  time.Time       `json:"latest_trade_date"`
	LatestIngestedAt time.Time       `json:"latest_ingested_at"`
	RowCount         int             `json:"row_count"`
	Status           FreshnessStatus `json:"status"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// HasData reports whether the dataset has ever been ingested.
func (r *FreshnessRecord) HasData() bool {
	return !r.LatestTradeDate.IsZero()
}
