package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasertk/setpulse/internal/domain"
	testhelpers "github.com/prasertk/setpulse/internal/testing"
)

func TestFreshness_RecordSuccessCreatesRecord(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	ingested := time.Date(2025, 6, 2, 10, 35, 0, 0, time.UTC)
	err := repo.RecordSuccess(ctx, domain.DatasetIndex, mustDate(t, "2025-06-02"), 12, ingested)
	require.NoError(t, err)

	rec, err := repo.Get(ctx, domain.DatasetIndex)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.DatasetIndex, rec.Dataset)
	assert.Equal(t, "2025-06-02", rec.LatestTradeDate.Format(domain.TradeDateLayout))
	assert.Equal(t, ingested, rec.LatestIngestedAt)
	assert.Equal(t, 12, rec.RowCount)
	assert.Equal(t, domain.StatusActive, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	assert.True(t, rec.HasData())
}

func TestFreshness_LatestTradeDateNeverRegresses(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetSectors, mustDate(t, "2025-06-03"), 80, time.Now()))
	// A late batch for an older business date must not move the pointer back.
	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetSectors, mustDate(t, "2025-06-02"), 75, time.Now()))

	rec, err := repo.Get(ctx, domain.DatasetSectors)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2025-06-03", rec.LatestTradeDate.Format(domain.TradeDateLayout))
}

func TestFreshness_OlderBatchDoesNotOverwriteNewerSnapshot(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	newerIngest := time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetSectors, mustDate(t, "2025-06-03"), 80, newerIngest))
	require.NoError(t, repo.MarkError(ctx, domain.DatasetSectors, "fetch failed"))

	// A backfill for the previous business date clears the error state but
	// the record must keep describing the 2025-06-03 batch throughout.
	olderIngest := time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetSectors, mustDate(t, "2025-06-02"), 75, olderIngest))

	rec, err := repo.Get(ctx, domain.DatasetSectors)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2025-06-03", rec.LatestTradeDate.Format(domain.TradeDateLayout))
	assert.Equal(t, 80, rec.RowCount)
	assert.Equal(t, newerIngest, rec.LatestIngestedAt)
	assert.Equal(t, domain.StatusActive, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
}

func TestFreshness_MarkErrorPreservesLastGoodData(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetNVDR, mustDate(t, "2025-06-02"), 400, time.Now()))
	require.NoError(t, repo.MarkError(ctx, domain.DatasetNVDR, "extractor unreachable"))

	rec, err := repo.Get(ctx, domain.DatasetNVDR)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Equal(t, "extractor unreachable", rec.ErrorMessage)
	// Stale snapshot remains addressable
	assert.Equal(t, "2025-06-02", rec.LatestTradeDate.Format(domain.TradeDateLayout))
	assert.Equal(t, 400, rec.RowCount)
}

func TestFreshness_MarkProcessingThenSuccessClearsError(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.MarkError(ctx, domain.DatasetShortSales, "parse failed"))
	require.NoError(t, repo.MarkProcessing(ctx, domain.DatasetShortSales))

	rec, err := repo.Get(ctx, domain.DatasetShortSales)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, rec.Status)

	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetShortSales, mustDate(t, "2025-06-02"), 30, time.Now()))
	rec, err = repo.Get(ctx, domain.DatasetShortSales)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
}

func TestFreshness_GetUnknownDatasetReturnsNil(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())

	rec, err := repo.Get(context.Background(), domain.DatasetInvestorFlow)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFreshness_AllReturnsSortedRecords(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()
	repo := NewFreshnessRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetSectors, mustDate(t, "2025-06-02"), 80, time.Now()))
	require.NoError(t, repo.RecordSuccess(ctx, domain.DatasetInvestorFlow, mustDate(t, "2025-06-02"), 4, time.Now()))

	records, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.DatasetInvestorFlow, records[0].Dataset)
	assert.Equal(t, domain.DatasetSectors, records[1].Dataset)
}
