package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasertk/setpulse/internal/domain"
	"github.com/prasertk/setpulse/internal/source"
)

// recordingJobs returns jobs for the given datasets that log which of them
// were fetched.
func recordingJobs(t *testing.T, datasets ...domain.Dataset) ([]source.Job, func() []domain.Dataset) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []domain.Dataset
	)
	jobs := make([]source.Job, 0, len(datasets))
	for _, ds := range datasets {
		ds := ds
		jobs = append(jobs, &fakeJob{
			dataset: ds,
			timeout: time.Second,
			fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
				mu.Lock()
				seen = append(seen, ds)
				mu.Unlock()
				return domain.NewRecordBatch(ds, tradeDate(t, "2025-06-02"), indexRows(3)), nil
			},
		})
	}
	return jobs, func() []domain.Dataset {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.Dataset(nil), seen...)
	}
}

func TestScheduler_ScheduledRefreshSkipsWeekend(t *testing.T) {
	jobs, fetched := recordingJobs(t, domain.DatasetIndex)
	orch, _, _, _ := newTestOrchestrator(t, jobs)
	sched := NewScheduler(orch, zerolog.Nop())

	// Saturday
	sched.now = func() time.Time { return time.Date(2025, 6, 7, 10, 30, 0, 0, time.UTC) }
	sched.runScheduled()
	assert.Empty(t, fetched(), "weekend scheduled refresh must be a no-op")

	// Monday
	sched.now = func() time.Time { return time.Date(2025, 6, 9, 10, 30, 0, 0, time.UTC) }
	sched.runScheduled()
	assert.Len(t, fetched(), 1, "weekday scheduled refresh must run")
}

func TestScheduler_IntervalSelectsFastDatasets(t *testing.T) {
	jobs, fetched := recordingJobs(t,
		domain.DatasetIndex, domain.DatasetSectors, domain.DatasetNVDR)
	orch, _, _, _ := newTestOrchestrator(t, jobs)
	sched := NewScheduler(orch, zerolog.Nop())

	sched.runInterval()

	seen := fetched()
	assert.ElementsMatch(t, domain.FastDatasets(), seen,
		"interval refresh must fetch only the fast subset")
}

func TestScheduler_RegisterRejectsMalformedTime(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, nil)
	sched := NewScheduler(orch, zerolog.Nop())

	err := sched.Register(10*time.Minute, []string{"not-a-time"})
	require.Error(t, err)
}

func TestScheduler_RegisterAcceptsValidConfig(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, nil)
	sched := NewScheduler(orch, zerolog.Nop())

	require.NoError(t, sched.Register(10*time.Minute, []string{"10:30", "13:00", "17:30"}))
	sched.Start()
	sched.Stop()
}
