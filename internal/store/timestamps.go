package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/domain"
)

// FreshnessRepository maintains the data_timestamps table: one row per
// dataset, updated in place after every reconcile. latest_trade_date only
// moves forward; a late-arriving batch for an older date never regresses it.
type FreshnessRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFreshnessRepository creates a freshness repository.
func NewFreshnessRepository(db *sql.DB, log zerolog.Logger) *FreshnessRepository {
	return &FreshnessRepository{
		db:  db,
		log: log.With().Str("repository", "freshness").Logger(),
	}
}

// RecordSuccess marks a dataset active after a successful ingest.
// ISO trade dates compare lexicographically, so MAX() keeps the newer one.
// A batch dated older than the stored trade date clears the error state but
// leaves the row count and ingest time describing the newer batch.
func (r *FreshnessRepository) RecordSuccess(ctx context.Context, dataset domain.Dataset, tradeDate time.Time, rowCount int, ingestedAt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_timestamps (data_source, latest_trade_date, latest_ingested_at, row_count, status, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(data_source) DO UPDATE SET
			latest_trade_date  = MAX(COALESCE(latest_trade_date, ''), excluded.latest_trade_date),
			latest_ingested_at = CASE
				WHEN excluded.latest_trade_date >= COALESCE(data_timestamps.latest_trade_date, '')
				THEN excluded.latest_ingested_at ELSE data_timestamps.latest_ingested_at END,
			row_count          = CASE
				WHEN excluded.latest_trade_date >= COALESCE(data_timestamps.latest_trade_date, '')
				THEN excluded.row_count ELSE data_timestamps.row_count END,
			status             = excluded.status,
			error_message      = NULL,
			updated_at         = excluded.updated_at`,
		dataset.String(),
		tradeDate.Format(domain.TradeDateLayout),
		ingestedAt.UTC().Format(time.RFC3339),
		rowCount,
		string(domain.StatusActive),
		now,
	)
	if err != nil {
		return fmt.Errorf("record success for %s: %w", dataset, err)
	}
	return nil
}

// MarkProcessing flags a dataset as mid-refresh without touching its data
// columns. Readers showing the last good snapshot see the flag alongside it.
func (r *FreshnessRepository) MarkProcessing(ctx context.Context, dataset domain.Dataset) error {
	return r.setStatus(ctx, dataset, domain.StatusProcessing, "")
}

// MarkError records a failed refresh. The stored trade date and row count
// stay as they were so the dashboard keeps serving the stale snapshot.
func (r *FreshnessRepository) MarkError(ctx context.Context, dataset domain.Dataset, message string) error {
	return r.setStatus(ctx, dataset, domain.StatusError, message)
}

func (r *FreshnessRepository) setStatus(ctx context.Context, dataset domain.Dataset, status domain.FreshnessStatus, message string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var errMsg any
	if message != "" {
		errMsg = message
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_timestamps (data_source, latest_trade_date, latest_ingested_at, row_count, status, error_message, updated_at)
		VALUES (?, NULL, NULL, 0, ?, ?, ?)
		ON CONFLICT(data_source) DO UPDATE SET
			status        = excluded.status,
			error_message = excluded.error_message,
			updated_at    = excluded.updated_at`,
		dataset.String(), string(status), errMsg, now)
	if err != nil {
		return fmt.Errorf("set status %s for %s: %w", status, dataset, err)
	}
	return nil
}

// Get returns the freshness record for one dataset, or nil when the dataset
// has never been refreshed.
func (r *FreshnessRepository) Get(ctx context.Context, dataset domain.Dataset) (*domain.FreshnessRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT data_source, latest_trade_date, latest_ingested_at, row_count, status, error_message, updated_at
		FROM data_timestamps WHERE data_source = ?`, dataset.String())

	rec, err := scanFreshness(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get freshness for %s: %w", dataset, err)
	}
	return rec, nil
}

// All returns the freshness records for every dataset that has one,
// ordered by dataset name.
func (r *FreshnessRepository) All(ctx context.Context) ([]domain.FreshnessRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data_source, latest_trade_date, latest_ingested_at, row_count, status, error_message, updated_at
		FROM data_timestamps ORDER BY data_source`)
	if err != nil {
		return nil, fmt.Errorf("list freshness records: %w", err)
	}
	defer rows.Close()

	var records []domain.FreshnessRecord
	for rows.Next() {
		rec, err := scanFreshness(rows)
		if err != nil {
			return nil, fmt.Errorf("scan freshness record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate freshness records: %w", err)
	}
	return records, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFreshness(s scanner) (*domain.FreshnessRecord, error) {
	var (
		rec        domain.FreshnessRecord
		source     string
		tradeDate  sql.NullString
		ingestedAt sql.NullString
		status     string
		errMsg     sql.NullString
		updatedAt  string
	)
	if err := s.Scan(&source, &tradeDate, &ingestedAt, &rec.RowCount, &status, &errMsg, &updatedAt); err != nil {
		return nil, err
	}

	rec.Dataset = domain.Dataset(source)
	rec.Status = domain.FreshnessStatus(status)
	rec.ErrorMessage = errMsg.String

	if tradeDate.Valid && tradeDate.String != "" {
		t, err := time.Parse(domain.TradeDateLayout, tradeDate.String)
		if err != nil {
			return nil, fmt.Errorf("malformed latest_trade_date %q: %w", tradeDate.String, err)
		}
		rec.LatestTradeDate = t
	}
	if ingestedAt.Valid && ingestedAt.String != "" {
		t, err := time.Parse(time.RFC3339, ingestedAt.String)
		if err != nil {
			return nil, fmt.Errorf("malformed latest_ingested_at %q: %w", ingestedAt.String, err)
		}
		rec.LatestIngestedAt = t
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("malformed updated_at %q: %w", updatedAt, err)
	}
	rec.UpdatedAt = t

	return &rec, nil
}
