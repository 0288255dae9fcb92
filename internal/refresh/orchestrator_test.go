package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasertk/setpulse/internal/config"
	"github.com/prasertk/setpulse/internal/domain"
	"github.com/prasertk/setpulse/internal/events"
	"github.com/prasertk/setpulse/internal/source"
	"github.com/prasertk/setpulse/internal/store"
	testhelpers "github.com/prasertk/setpulse/internal/testing"
)

// newTestOrchestrator builds an orchestrator over a real temp database with
// the given jobs. Thresholds are low so small fixtures count as complete.
func newTestOrchestrator(t *testing.T, jobs []source.Job) (*Orchestrator, *store.Adapter, *store.FreshnessRepository, *events.Broadcaster) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t)
	t.Cleanup(cleanup)

	adapter := store.NewAdapter(db.Conn(), zerolog.Nop())
	freshness := store.NewFreshnessRepository(db.Conn(), zerolog.Nop())
	checker := NewCompleteness(map[domain.Dataset]config.DatasetConfig{
		domain.DatasetIndex:   {MinRows: 2},
		domain.DatasetSectors: {MinRows: 2},
	})
	broadcaster := events.NewBroadcaster(zerolog.Nop())
	journal := NewJournal(filepath.Join(t.TempDir(), "cycles.journal"), zerolog.Nop())

	orch := NewOrchestrator(jobs, NewRunner(zerolog.Nop()), adapter, freshness,
		checker, broadcaster, journal, 48*time.Hour, zerolog.Nop())
	return orch, adapter, freshness, broadcaster
}

func healthyIndexJob(t *testing.T, date string, rows int) *fakeJob {
	return &fakeJob{
		dataset: domain.DatasetIndex,
		timeout: time.Second,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			return domain.NewRecordBatch(domain.DatasetIndex, tradeDate(t, date), indexRows(rows)), nil
		},
	}
}

func failingJob(dataset domain.Dataset, err error) *fakeJob {
	return &fakeJob{
		dataset: dataset,
		timeout: time.Second,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			return nil, err
		},
	}
}

func TestOrchestrator_SuccessfulCycle(t *testing.T) {
	sectorJob := &fakeJob{
		dataset: domain.DatasetSectors,
		timeout: time.Second,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			rows := []domain.Row{
				{"symbol": "PTT", "sector": "energy", "last_price": 31.75},
				{"symbol": "AOT", "sector": "service", "last_price": 60.25},
			}
			return domain.NewRecordBatch(domain.DatasetSectors, tradeDate(t, "2025-06-02"), rows), nil
		},
	}
	orch, adapter, freshness, _ := newTestOrchestrator(t,
		[]source.Job{healthyIndexJob(t, "2025-06-02", 3), sectorJob})

	report, accepted := orch.RunCycleNow(context.Background(), domain.TriggerManual, nil)
	require.True(t, accepted)
	require.NotNil(t, report)
	assert.Equal(t, domain.CycleSuccess, report.Status)
	require.Len(t, report.Outcomes, 2)
	for _, outcome := range report.Outcomes {
		assert.Equal(t, domain.OutcomeIngested, outcome.Kind)
	}

	// Data landed
	count, err := adapter.RowCount(context.Background(), domain.DatasetIndex, tradeDate(t, "2025-06-02"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Freshness is current
	rec, err := freshness.Get(context.Background(), domain.DatasetSectors)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusActive, rec.Status)
	assert.Equal(t, "2025-06-02", rec.LatestTradeDate.Format(domain.TradeDateLayout))
	assert.Equal(t, 2, rec.RowCount)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	orch, adapter, freshness, _ := newTestOrchestrator(t, []source.Job{
		healthyIndexJob(t, "2025-06-02", 3),
		failingJob(domain.DatasetSectors, domain.FetchError(errors.New("connection refused"))),
	})

	report, accepted := orch.RunCycleNow(context.Background(), domain.TriggerManual, nil)
	require.True(t, accepted)
	assert.Equal(t, domain.CyclePartialSuccess, report.Status)

	// The healthy dataset still landed
	count, err := adapter.RowCount(context.Background(), domain.DatasetIndex, tradeDate(t, "2025-06-02"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// The failed dataset carries an error record
	rec, err := freshness.Get(context.Background(), domain.DatasetSectors)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "connection refused")
}

func TestOrchestrator_StaleDataSurvivesFailedRefresh(t *testing.T) {
	// Seed a good snapshot, then make every later fetch fail.
	calls := 0
	job := &fakeJob{
		dataset: domain.DatasetIndex,
		timeout: time.Second,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			calls++
			if calls == 1 {
				return domain.NewRecordBatch(domain.DatasetIndex, tradeDate(t, "2025-06-02"), indexRows(3)), nil
			}
			return nil, domain.FetchError(errors.New("site down"))
		},
	}
	orch, adapter, freshness, _ := newTestOrchestrator(t, []source.Job{job})
	ctx := context.Background()

	_, accepted := orch.RunCycleNow(ctx, domain.TriggerManual, nil)
	require.True(t, accepted)

	report, accepted := orch.RunCycleNow(ctx, domain.TriggerManual, nil)
	require.True(t, accepted)
	assert.Equal(t, domain.CycleFailed, report.Status)

	// The old rows are still there and the freshness record still points at them.
	count, err := adapter.RowCount(ctx, domain.DatasetIndex, tradeDate(t, "2025-06-02"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	rec, err := freshness.Get(ctx, domain.DatasetIndex)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Equal(t, "2025-06-02", rec.LatestTradeDate.Format(domain.TradeDateLayout))
}

func TestOrchestrator_IncompleteBatchRejected(t *testing.T) {
	orch, adapter, freshness, _ := newTestOrchestrator(t,
		[]source.Job{healthyIndexJob(t, "2025-06-02", 1)}) // below the MinRows: 2 threshold

	report, accepted := orch.RunCycleNow(context.Background(), domain.TriggerManual, nil)
	require.True(t, accepted)
	assert.Equal(t, domain.CycleFailed, report.Status)
	assert.Equal(t, domain.ErrIncompleteData, report.Outcomes[0].ErrorKind)

	// Nothing was written
	count, err := adapter.RowCount(context.Background(), domain.DatasetIndex, tradeDate(t, "2025-06-02"))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rec, err := freshness.Get(context.Background(), domain.DatasetIndex)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, rec.Status)
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	slowJob := &fakeJob{
		dataset: domain.DatasetIndex,
		timeout: 5 * time.Second,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			<-release
			return domain.NewRecordBatch(domain.DatasetIndex, tradeDate(t, "2025-06-02"), indexRows(3)), nil
		},
	}
	orch, _, _, broadcaster := newTestOrchestrator(t, []source.Job{slowJob})

	ch, cancel := broadcaster.Subscribe()
	defer cancel()

	cycleID, accepted := orch.TriggerCycle(domain.TriggerManual, nil)
	require.True(t, accepted)
	require.NotEmpty(t, cycleID)

	// Wait until the cycle is observably started before the second trigger.
	ev := <-ch
	assert.Equal(t, events.PhaseStarted, ev.Phase)
	assert.Equal(t, cycleID, ev.CycleID)

	_, accepted = orch.TriggerCycle(domain.TriggerManual, nil)
	assert.False(t, accepted, "second trigger must be rejected while a cycle is in flight")

	if _, ok := orch.RunCycleNow(context.Background(), domain.TriggerInterval, nil); ok {
		t.Fatal("synchronous trigger must also be rejected while a cycle is in flight")
	}

	close(release)

	// Drain to the terminal event, then the next trigger is accepted again.
	for ev := range ch {
		if ev.Phase.Terminal() {
			break
		}
	}
	require.Eventually(t, func() bool {
		return !orch.Running()
	}, 2*time.Second, 10*time.Millisecond)

	_, accepted = orch.TriggerCycle(domain.TriggerManual, nil)
	assert.True(t, accepted)
	close2 := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Phase.Terminal() {
				return
			}
		case <-close2:
			t.Fatal("second cycle never reached a terminal phase")
		}
	}
}

func TestOrchestrator_IntervalCyclePrunesFastTables(t *testing.T) {
	today := time.Now().UTC().Format(domain.TradeDateLayout)
	orch, adapter, _, _ := newTestOrchestrator(t, []source.Job{healthyIndexJob(t, today, 3)})
	ctx := context.Background()

	// Seed rows far past the retention horizon.
	old := domain.NewRecordBatch(domain.DatasetIndex, tradeDate(t, "2025-01-06"), indexRows(3))
	_, _, err := adapter.Upsert(ctx, old)
	require.NoError(t, err)

	report, accepted := orch.RunCycleNow(ctx, domain.TriggerInterval, domain.FastDatasets())
	require.True(t, accepted)
	assert.Equal(t, domain.CycleSuccess, report.Status)

	count, err := adapter.RowCount(ctx, domain.DatasetIndex, tradeDate(t, "2025-01-06"))
	require.NoError(t, err)
	assert.Equal(t, 0, count, "rows past the retention horizon must be pruned after an interval cycle")

	latest, ok, err := adapter.LatestTradeDate(ctx, domain.DatasetIndex)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, today, latest.Format(domain.TradeDateLayout))
}

func TestOrchestrator_ManualCycleDoesNotPrune(t *testing.T) {
	today := time.Now().UTC().Format(domain.TradeDateLayout)
	orch, adapter, _, _ := newTestOrchestrator(t, []source.Job{healthyIndexJob(t, today, 3)})
	ctx := context.Background()

	old := domain.NewRecordBatch(domain.DatasetIndex, tradeDate(t, "2025-01-06"), indexRows(2))
	_, _, err := adapter.Upsert(ctx, old)
	require.NoError(t, err)

	_, accepted := orch.RunCycleNow(ctx, domain.TriggerManual, nil)
	require.True(t, accepted)

	count, err := adapter.RowCount(ctx, domain.DatasetIndex, tradeDate(t, "2025-01-06"))
	require.NoError(t, err)
	assert.Equal(t, 2, count, "manual cycles must not prune")
}

func TestOrchestrator_ProgressEventSequence(t *testing.T) {
	orch, _, _, broadcaster := newTestOrchestrator(t, []source.Job{healthyIndexJob(t, "2025-06-02", 3)})

	ch, cancel := broadcaster.Subscribe()
	defer cancel()

	go func() {
		_, _ = orch.RunCycleNow(context.Background(), domain.TriggerManual, nil)
	}()

	var phases []events.Phase
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			phases = append(phases, ev.Phase)
			if ev.Phase.Terminal() {
				assert.Equal(t, 100, ev.Percent)
				assert.Equal(t, events.PhaseStarted, phases[0])
				assert.Contains(t, phases, events.PhaseFetching)
				assert.Contains(t, phases, events.PhaseStoring)
				assert.Contains(t, phases, events.PhaseDatasetEnd)
				return
			}
		case <-deadline:
			t.Fatalf("no terminal event, phases so far: %v", phases)
		}
	}
}

func TestOrchestrator_TimeoutOutcomeKind(t *testing.T) {
	job := &fakeJob{
		dataset: domain.DatasetNVDR,
		timeout: 20 * time.Millisecond,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	orch, _, _, _ := newTestOrchestrator(t, []source.Job{job})

	report, accepted := orch.RunCycleNow(context.Background(), domain.TriggerManual, nil)
	require.True(t, accepted)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, domain.OutcomeTimedOut, report.Outcomes[0].Kind)
	assert.Equal(t, domain.ErrTimeout, report.Outcomes[0].ErrorKind)
}

func TestOrchestrator_SelectJobsSkipsUnregistered(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, []source.Job{healthyIndexJob(t, "2025-06-02", 3)})

	report, accepted := orch.RunCycleNow(context.Background(), domain.TriggerScheduled, domain.AllDatasets())
	require.True(t, accepted)
	// Only the registered dataset appears in the report.
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, domain.DatasetIndex, report.Outcomes[0].Dataset)
}
