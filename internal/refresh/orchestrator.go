package refresh

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
	"github.com/prasertk/setpulse/internal/events"
	"github.com/prasertk/setpulse/internal/source"
	"github.com/prasertk/setpulse/internal/store"
)

// Orchestrator owns the refresh cycle: it fans dataset jobs out in parallel,
// reconciles their results into the store serially, and enforces that at
// most one cycle runs at a time. Trigger collisions are rejected, never
// queued, so a slow cycle cannot cause a pile-up.
type Orchestrator struct {
	jobs        map[domain.Dataset]source.Job
	runner      *Runner
	store       *store.Adapter
	freshness   *store.FreshnessRepository
	checker     *Completeness
	broadcaster *events.Broadcaster
	journal     *Journal
	retention   time.Duration
	log         zerolog.Logger

	inFlight atomic.Bool
}

// NewOrchestrator wires the refresh engine together. Disabled datasets are
// simply not registered; the orchestrator only ever sees enabled jobs.
func NewOrchestrator(
	jobs []source.Job,
	runner *Runner,
	adapter *store.Adapter,
	freshness *store.FreshnessRepository,
	checker *Completeness,
	broadcaster *events.Broadcaster,
	journal *Journal,
	retention time.Duration,
	log zerolog.Logger,
) *Orchestrator {
	jobMap := make(map[domain.Dataset]source.Job, len(jobs))
	for _, j := range jobs {
		jobMap[j.Dataset()] = j
	}
	return &Orchestrator{
		jobs:        jobMap,
		runner:      runner,
		store:       adapter,
		freshness:   freshness,
		checker:     checker,
		broadcaster: broadcaster,
		journal:     journal,
		retention:   retention,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// Running reports whether a cycle is currently in flight.
func (o *Orchestrator) Running() bool {
	return o.inFlight.Load()
}

// TriggerCycle starts a cycle in the background. Returns the cycle ID and
// true when the trigger was accepted, or false when a cycle is already in
// flight. The cycle detaches from the caller's lifetime: an HTTP trigger
// must not die with its request.
func (o *Orchestrator) TriggerCycle(trigger domain.TriggerKind, datasets []domain.Dataset) (string, bool) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.log.Info().Str("trigger", string(trigger)).Msg("Trigger rejected, cycle already in flight")
		return "", false
	}

	cycleID := uuid.New().String()
	go func() {
		defer o.inFlight.Store(false)
		o.runCycle(context.Background(), cycleID, trigger, datasets)
	}()
	return cycleID, true
}

// RunCycleNow runs a cycle synchronously under the same single-flight rule.
// Used by the scheduler and the startup refresh; returns false when a cycle
// is already in flight.
func (o *Orchestrator) RunCycleNow(ctx context.Context, trigger domain.TriggerKind, datasets []domain.Dataset) (*domain.CycleReport, bool) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.log.Info().Str("trigger", string(trigger)).Msg("Trigger rejected, cycle already in flight")
		return nil, false
	}
	defer o.inFlight.Store(false)
	return o.runCycle(ctx, uuid.New().String(), trigger, datasets), true
}

// selectJobs resolves the requested datasets to registered jobs, preserving
// the canonical dataset order. A nil request means every registered job.
func (o *Orchestrator) selectJobs(datasets []domain.Dataset) []source.Job {
	requested := datasets
	if requested == nil {
		requested = domain.AllDatasets()
	}
	var jobs []source.Job
	for _, ds := range requested {
		if job, ok := o.jobs[ds]; ok {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// fetchResult is one dataset's raw outcome from the fan-out phase.
type fetchResult struct {
	job      source.Job
	batch    *domain.RecordBatch
	jobErr   *domain.JobError
	duration time.Duration
}

func (o *Orchestrator) runCycle(ctx context.Context, cycleID string, trigger domain.TriggerKind, datasets []domain.Dataset) *domain.CycleReport {
	jobs := o.selectJobs(datasets)
	startedAt := time.Now().UTC()

	log := o.log.With().Str("cycle_id", cycleID).Str("trigger", string(trigger)).Logger()
	log.Info().Int("datasets", len(jobs)).Msg("Refresh cycle started")

	o.publish(events.Event{
		CycleID: cycleID,
		Phase:   events.PhaseStarted,
		Percent: 0,
		Message: "Refresh cycle started",
	})

	// Flag every dataset as processing before any fetch begins, so a status
	// read during the cycle shows the last good snapshot plus the flag.
	for _, job := range jobs {
		if err := o.freshness.MarkProcessing(ctx, job.Dataset()); err != nil {
			log.Error().Err(err).Str("dataset", job.Dataset().String()).Msg("Failed to mark processing")
		}
	}

	// Fan out: every dataset fetches concurrently with its own deadline.
	results := make([]fetchResult, 0, len(jobs))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, job := range jobs {
		wg.Add(1)
		go func(job source.Job) {
			defer wg.Done()
			o.publish(events.Event{
				CycleID: cycleID,
				Phase:   events.PhaseFetching,
				Dataset: job.Dataset(),
				Message: "Fetching " + job.Dataset().Description(),
			})
			started := time.Now()
			batch, jobErr := o.runner.Run(ctx, job)
			mu.Lock()
			results = append(results, fetchResult{
				job:      job,
				batch:    batch,
				jobErr:   jobErr,
				duration: time.Since(started),
			})
			mu.Unlock()
		}(job)
	}
	wg.Wait()

	// Reconcile serially in canonical order: one writer to the store.
	sort.Slice(results, func(i, j int) bool {
		return results[i].job.Dataset() < results[j].job.Dataset()
	})

	outcomes := make([]domain.DatasetOutcome, 0, len(results))
	for i, res := range results {
		outcome := o.reconcile(ctx, cycleID, res)
		outcomes = append(outcomes, outcome)
		o.publish(events.Event{
			CycleID: cycleID,
			Phase:   events.PhaseDatasetEnd,
			Dataset: res.job.Dataset(),
			Percent: (i + 1) * 100 / len(results),
			Message: res.job.Dataset().Description() + ": " + string(outcome.Kind),
		})
	}

	if trigger == domain.TriggerInterval {
		o.pruneFastTables(ctx, log)
	}

	status := domain.OverallStatus(outcomes)
	report := &domain.CycleReport{
		CycleID:   cycleID,
		Trigger:   trigger,
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
		Status:    status,
		Outcomes:  outcomes,
	}

	if err := o.journal.Append(report); err != nil {
		log.Warn().Err(err).Msg("Failed to journal cycle report")
	}

	terminal := events.PhaseCompleted
	if status == domain.CycleFailed {
		terminal = events.PhaseFailed
	}
	o.publish(events.Event{
		CycleID: cycleID,
		Phase:   terminal,
		Percent: 100,
		Message: "Refresh cycle " + string(status),
	})

	log.Info().
		Str("status", string(status)).
		Dur("elapsed", report.EndedAt.Sub(report.StartedAt)).
		Msg("Refresh cycle finished")
	return report
}

// reconcile applies one dataset's fetch result to the store: completeness
// gate, then upsert, then the freshness record. Failures leave the previous
// data untouched and authoritative.
func (o *Orchestrator) reconcile(ctx context.Context, cycleID string, res fetchResult) domain.DatasetOutcome {
	dataset := res.job.Dataset()
	outcome := domain.DatasetOutcome{
		Dataset:  dataset,
		Duration: res.duration,
	}

	fail := func(jobErr *domain.JobError) domain.DatasetOutcome {
		outcome.Kind = domain.OutcomeFailed
		if jobErr.Kind == domain.ErrTimeout {
			outcome.Kind = domain.OutcomeTimedOut
		}
		outcome.ErrorKind = jobErr.Kind
		outcome.Message = jobErr.Message
		if err := o.freshness.MarkError(ctx, dataset, jobErr.Message); err != nil {
			o.log.Error().Err(err).Str("dataset", dataset.String()).Msg("Failed to mark error")
		}
		return outcome
	}

	if res.jobErr != nil {
		return fail(res.jobErr)
	}
	if jobErr := o.checker.Check(res.batch); jobErr != nil {
		return fail(jobErr)
	}

	o.publish(events.Event{
		CycleID: cycleID,
		Phase:   events.PhaseStoring,
		Dataset: dataset,
		Message: "Storing " + dataset.Description(),
	})

	inserted, updated, err := o.store.Upsert(ctx, res.batch)
	if err != nil {
		return fail(domain.NewJobError(domain.ErrStoreWrite, "upsert %s: %v", dataset, err))
	}

	if err := o.freshness.RecordSuccess(ctx, dataset, res.batch.TradeDate, len(res.batch.Rows), res.batch.FetchedAt); err != nil {
		o.log.Error().Err(err).Str("dataset", dataset.String()).Msg("Failed to record freshness")
	}

	outcome.Kind = domain.OutcomeIngested
	outcome.TradeDate = res.batch.TradeDateString()
	outcome.RowCount = len(res.batch.Rows)
	outcome.Inserted = inserted
	outcome.Updated = updated
	return outcome
}

// pruneFastTables drops rows past the retention horizon from the
// interval-refreshed tables.
func (o *Orchestrator) pruneFastTables(ctx context.Context, log zerolog.Logger) {
	keepSince := time.Now().UTC().Add(-o.retention)
	for _, ds := range domain.FastDatasets() {
		if _, registered := o.jobs[ds]; !registered {
			continue
		}
		if _, err := o.store.Prune(ctx, ds, keepSince); err != nil {
			log.Error().Err(err).Str("dataset", ds.String()).Msg("Retention prune failed")
		}
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.broadcaster != nil {
		o.broadcaster.Publish(ev)
	}
}
