package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasertk/setpulse/internal/config"
	"github.com/prasertk/setpulse/internal/domain"
	"github.com/prasertk/setpulse/internal/events"
	"github.com/prasertk/setpulse/internal/refresh"
	"github.com/prasertk/setpulse/internal/source"
	"github.com/prasertk/setpulse/internal/store"
	testhelpers "github.com/prasertk/setpulse/internal/testing"
)

// stubJob is a scriptable source.Job for handler tests.
type stubJob struct {
	dataset domain.Dataset
	fetch   func(ctx context.Context) (*domain.RecordBatch, error)
}

func (f *stubJob) Dataset() domain.Dataset { return f.dataset }
func (f *stubJob) Timeout() time.Duration  { return 5 * time.Second }
func (f *stubJob) Fetch(ctx context.Context) (*domain.RecordBatch, error) {
	return f.fetch(ctx)
}

// newTestServer builds a full server over a temp database with one stub job.
func newTestServer(t *testing.T, jobs []source.Job) (*Server, *store.FreshnessRepository) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t)
	t.Cleanup(cleanup)

	log := zerolog.Nop()
	adapter := store.NewAdapter(db.Conn(), log)
	freshness := store.NewFreshnessRepository(db.Conn(), log)
	broadcaster := events.NewBroadcaster(log)
	checker := refresh.NewCompleteness(map[domain.Dataset]config.DatasetConfig{})
	journal := refresh.NewJournal(filepath.Join(t.TempDir(), "cycles.journal"), log)
	orch := refresh.NewOrchestrator(jobs, refresh.NewRunner(log), adapter, freshness,
		checker, broadcaster, journal, 48*time.Hour, log)

	srv := New(Config{
		Log:          log,
		DB:           db,
		Config:       &config.Config{DataDir: t.TempDir(), Port: 0},
		Orchestrator: orch,
		Broadcaster:  broadcaster,
		Freshness:    freshness,
	})
	return srv, freshness
}

func quickIndexJob(t *testing.T) *stubJob {
	return &stubJob{
		dataset: domain.DatasetIndex,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			date, err := time.Parse(domain.TradeDateLayout, "2025-06-02")
			require.NoError(t, err)
			rows := []domain.Row{{"index_name": "SET", "last_value": 1150.25}}
			return domain.NewRecordBatch(domain.DatasetIndex, date, rows), nil
		},
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHandleTriggerRefresh(t *testing.T) {
	release := make(chan struct{})
	slow := &stubJob{
		dataset: domain.DatasetIndex,
		fetch: func(ctx context.Context) (*domain.RecordBatch, error) {
			<-release
			date, _ := time.Parse(domain.TradeDateLayout, "2025-06-02")
			return domain.NewRecordBatch(domain.DatasetIndex, date,
				[]domain.Row{{"index_name": "SET"}}), nil
		},
	}
	srv, _ := newTestServer(t, []source.Job{slow})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh/trigger", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp TriggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.NotEmpty(t, resp.CycleID)

	// Second trigger while the first cycle is blocked on the job
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/api/refresh/trigger", nil))
	assert.Equal(t, http.StatusConflict, rec2.Code)

	var resp2 TriggerResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.False(t, resp2.Accepted)
	assert.Empty(t, resp2.CycleID)

	close(release)
}

func TestHandleRefreshStatus(t *testing.T) {
	srv, freshness := newTestServer(t, nil)

	date, err := time.Parse(domain.TradeDateLayout, "2025-06-02")
	require.NoError(t, err)
	require.NoError(t, freshness.RecordSuccess(context.Background(), domain.DatasetIndex, date, 8, time.Now()))
	require.NoError(t, freshness.MarkError(context.Background(), domain.DatasetNVDR, "extractor unreachable"))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/refresh/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RefreshStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Refreshing)
	require.Len(t, resp.Datasets, 2)

	byName := map[domain.Dataset]domain.FreshnessRecord{}
	for _, fr := range resp.Datasets {
		byName[fr.Dataset] = fr
	}
	assert.Equal(t, domain.StatusActive, byName[domain.DatasetIndex].Status)
	assert.Equal(t, 8, byName[domain.DatasetIndex].RowCount)
	assert.Equal(t, domain.StatusError, byName[domain.DatasetNVDR].Status)
	assert.Equal(t, "extractor unreachable", byName[domain.DatasetNVDR].ErrorMessage)
}

func TestHandleRefreshStatusEmpty(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/refresh/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RefreshStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Datasets)
	assert.Empty(t, resp.Datasets)
}

func TestRefreshStreamClosesAtTerminalPhase(t *testing.T) {
	srv, _ := newTestServer(t, []source.Job{quickIndexJob(t)})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/refresh/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)

	// First frame is the connected notice.
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), "connected")

	// Now start a cycle and read until the stream ends.
	triggerResp, err := http.Post(ts.URL+"/api/refresh/trigger", "application/json", nil)
	require.NoError(t, err)
	triggerResp.Body.Close()
	require.Equal(t, http.StatusAccepted, triggerResp.StatusCode)

	var sawTerminal bool
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue // heartbeat or connected frame
		}
		if ev.Phase.Terminal() {
			sawTerminal = true
		}
	}
	// Body reached EOF: the server closed the stream after the terminal event.
	assert.True(t, sawTerminal, "stream should have carried a terminal event before closing")
}

func TestHandleSystemStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.Refreshing)
	assert.NotEmpty(t, resp.DataDir)
}

func TestHandleDatabaseStats(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/database/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp.PageSize, int64(0))
}
