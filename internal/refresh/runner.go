// Package refresh contains the engine that keeps the store current: the job
// runner, the single-flight orchestrator, the completeness predicates, the
// cron scheduler, and the cycle journal.
package refresh

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
	"github.com/prasertk/setpulse/internal/source"
)

// diagnosticTailLines bounds how much failure detail is kept per run.
const diagnosticTailLines = 20

// Runner executes one source job under its timeout and classifies the result.
// It never lets a job failure escape as anything but a typed JobError.
type Runner struct {
	log zerolog.Logger
}

// NewRunner creates a job runner.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log.With().Str("component", "runner").Logger()}
}

// Run fetches one dataset. On failure the returned JobError carries the
// classified kind and a bounded diagnostic tail.
func (r *Runner) Run(ctx context.Context, job source.Job) (*domain.RecordBatch, *domain.JobError) {
	runCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	started := time.Now()
	batch, err := job.Fetch(runCtx)
	elapsed := time.Since(started)

	if err == nil {
		r.log.Info().
			Str("dataset", job.Dataset().String()).
			Int("rows", len(batch.Rows)).
			Dur("elapsed", elapsed).
			Msg("Job finished")
		return batch, nil
	}

	jobErr := classify(runCtx, job, err)
	r.log.Warn().
		Str("dataset", job.Dataset().String()).
		Str("kind", string(jobErr.Kind)).
		Dur("elapsed", elapsed).
		Msg("Job failed: " + jobErr.Message)
	return nil, jobErr
}

// classify maps an arbitrary fetch error to a typed JobError. A deadline on
// the run context takes precedence: a transport error caused by cancellation
// is a timeout, not a source fault.
func classify(runCtx context.Context, job source.Job, err error) *domain.JobError {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		jobErr := domain.NewJobError(domain.ErrTimeout,
			"%s exceeded its %s budget", job.Dataset(), job.Timeout())
		jobErr.DiagnosticTail = tailOf(err)
		return jobErr
	}

	var typed *domain.JobError
	if errors.As(err, &typed) {
		if len(typed.DiagnosticTail) == 0 {
			typed.DiagnosticTail = tailOf(err)
		}
		return typed
	}

	jobErr := domain.FetchError(err)
	jobErr.DiagnosticTail = tailOf(err)
	return jobErr
}

// tailOf keeps the last few lines of an error's text for triage.
func tailOf(err error) []string {
	if err == nil {
		return nil
	}
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > diagnosticTailLines {
		lines = lines[len(lines)-diagnosticTailLines:]
	}
	return lines
}
