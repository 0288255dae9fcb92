package domain

import "time"

// TriggerKind says what started a refresh cycle.
type TriggerKind string

const (
	// TriggerInterval is the fixed-interval fast refresh.
	TriggerInterval TriggerKind = "interval"
	// TriggerScheduled is the fixed-time-of-day full refresh.
	TriggerScheduled TriggerKind = "scheduled"
	// TriggerManual is an operator-initiated refresh.
	TriggerManual TriggerKind = "manual"
)

// CycleStatus is the overall outcome of a refresh cycle.
type CycleStatus string

const (
	CycleSuccess        CycleStatus = "success"
	CyclePartialSuccess CycleStatus = "partial_success"
	CycleFailed         CycleStatus = "failed"
)

// OutcomeKind classifies one dataset's result within a cycle.
type OutcomeKind string

const (
	OutcomeIngested OutcomeKind = "ingested"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// DatasetOutcome records what happened to one dataset in one cycle.
type DatasetOutcome struct {
	Dataset   Dataset       `json:"dataset" msgpack:"dataset"`
	Kind      OutcomeKind   `json:"kind" msgpack:"kind"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty" msgpack:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty" msgpack:"message,omitempty"`
	TradeDate string        `json:"trade_date,omitempty" msgpack:"trade_date,omitempty"`
	RowCount  int           `json:"row_count" msgpack:"row_count"`
	Inserted  int           `json:"inserted" msgpack:"inserted"`
	Updated   int           `json:"updated" msgpack:"updated"`
	Duration  time.Duration `json:"duration_ms" msgpack:"duration_ms"`
}

// Succeeded reports whether the dataset ingested cleanly.
func (o DatasetOutcome) Succeeded() bool {
	return o.Kind == OutcomeIngested
}

// CycleReport is the ephemeral summary of one refresh cycle. It is never
// persisted as a queryable entity; it lives for the duration of the progress
// stream and is appended to the write-only cycle journal.
type CycleReport struct {
	CycleID   string           `json:"cycle_id" msgpack:"cycle_id"`
	Trigger   TriggerKind      `json:"trigger" msgpack:"trigger"`
	StartedAt time.Time        `json:"started_at" msgpack:"started_at"`
	EndedAt   time.Time        `json:"ended_at" msgpack:"ended_at"`
	Status    CycleStatus      `json:"status" msgpack:"status"`
	Outcomes  []DatasetOutcome `json:"outcomes" msgpack:"outcomes"`
}

// OverallStatus derives the cycle status from per-dataset outcomes:
// Success when all succeeded, Failed when all failed, PartialSuccess
// otherwise.
func OverallStatus(outcomes []DatasetOutcome) CycleStatus {
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	switch {
	case len(outcomes) == 0 || succeeded == len(outcomes):
		return CycleSuccess
	case succeeded == 0:
		return CycleFailed
	default:
		return CyclePartialSuccess
	}
}
