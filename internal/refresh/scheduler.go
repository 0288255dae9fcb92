package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

// Scheduler drives the orchestrator from wall-clock time: a fixed-interval
// fast refresh and a handful of time-of-day full refreshes. The full
// refreshes are gated on business days; the clock firing on a Saturday is a
// logged no-op, not an error.
type Scheduler struct {
	cron *cron.Cron
	orch *Orchestrator
	log  zerolog.Logger

	now func() time.Time // injectable clock for tests
}

// NewScheduler creates a scheduler bound to an orchestrator.
func NewScheduler(orch *Orchestrator, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		orch: orch,
		log:  log.With().Str("component", "scheduler").Logger(),
		now:  time.Now,
	}
}

// Register installs the interval and time-of-day entries. times are "HH:MM"
// wall-clock strings, validated by config.
func (s *Scheduler) Register(interval time.Duration, times []string) error {
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.runInterval); err != nil {
		return fmt.Errorf("register interval refresh %q: %w", spec, err)
	}
	s.log.Info().Str("schedule", spec).Msg("Interval refresh registered")

	for _, t := range times {
		var hour, minute int
		if _, err := fmt.Sscanf(t, "%d:%d", &hour, &minute); err != nil {
			return fmt.Errorf("parse scheduled time %q: %w", t, err)
		}
		spec := fmt.Sprintf("%d %d * * *", minute, hour)
		if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
			return fmt.Errorf("register scheduled refresh %q: %w", spec, err)
		}
		s.log.Info().Str("schedule", spec).Msg("Full refresh registered")
	}
	return nil
}

// RegisterNightly installs an arbitrary job on a cron spec. Used for
// maintenance work that shares the scheduler's clock but not its refresh
// semantics.
func (s *Scheduler) RegisterNightly(spec, name string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("register %s job %q: %w", name, spec, err)
	}
	s.log.Info().Str("schedule", spec).Str("job", name).Msg("Nightly job registered")
	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for any running entry to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// runInterval refreshes the fast subset. Interval triggers fire on weekends
// too: they are cheap, idempotent, and catching a late session recap beats
// modelling the calendar here.
func (s *Scheduler) runInterval() {
	if _, accepted := s.orch.RunCycleNow(context.Background(), domain.TriggerInterval, domain.FastDatasets()); !accepted {
		s.log.Info().Msg("Interval refresh skipped, cycle in flight")
	}
}

// runScheduled refreshes every dataset, business days only.
func (s *Scheduler) runScheduled() {
	if !domain.IsBusinessDay(s.now()) {
		s.log.Info().Msg("Scheduled refresh skipped, not a business day")
		return
	}
	if _, accepted := s.orch.RunCycleNow(context.Background(), domain.TriggerScheduled, nil); !accepted {
		s.log.Info().Msg("Scheduled refresh skipped, cycle in flight")
	}
}

// StartupRefresh runs one full refresh so a cold start serves data without
// waiting for the first cron fire. Callers run it in a goroutine.
func (s *Scheduler) StartupRefresh(ctx context.Context) {
	s.log.Info().Msg("Running startup refresh")
	if report, accepted := s.orch.RunCycleNow(ctx, domain.TriggerManual, nil); accepted {
		s.log.Info().Str("status", string(report.Status)).Msg("Startup refresh finished")
	}
}
