package domain

import "fmt"

// ErrorKind classifies a source job failure. Every job-side failure is
// contained at the per-dataset level; kinds exist so the freshness record
// and the progress stream can say what went wrong without parsing messages.
type ErrorKind string

const (
	// ErrTimeout means the fetch exceeded its per-dataset budget.
	ErrTimeout ErrorKind = "timeout"
	// ErrFetchFailed means a transport or availability error from the source.
	ErrFetchFailed ErrorKind = "fetch_failed"
	// ErrParseFailed means the source returned data that could not be
	// normalized into a record batch.
	ErrParseFailed ErrorKind = "parse_failed"
	// ErrIncompleteData means normalization succeeded but the completeness
	// predicate rejected the batch.
	ErrIncompleteData ErrorKind = "incomplete_data"
	// ErrStoreWrite means the upsert into the store failed.
	ErrStoreWrite ErrorKind = "store_write_failed"
)

// JobError is the typed failure a source job (or the reconcile step) reports.
// DiagnosticTail carries the last few lines of whatever output the job could
// capture, bounded so triage data never grows without limit.
type JobError struct {
	Kind           ErrorKind
	Message        string
	DiagnosticTail []string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewJobError builds a JobError without diagnostics.
func NewJobError(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FetchError wraps a transport error as ErrFetchFailed, preserving the
// original message.
func FetchError(err error) *JobError {
	return &JobError{Kind: ErrFetchFailed, Message: err.Error()}
}

// ParseError wraps a normalization error as ErrParseFailed.
func ParseError(err error) *JobError {
	return &JobError{Kind: ErrParseFailed, Message: err.Error()}
}
