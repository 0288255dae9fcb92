// Package store provides the persistence adapter for dataset batches.
//
// Each dataset maps to one table keyed by a natural key plus trade_date.
// Writes are idempotent: re-ingesting the same batch leaves the table
// unchanged except for refreshed non-key columns (last write wins).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prasertk/setpulse/internal/database"
	"github.com/prasertk/setpulse/internal/domain"
)

// tableSpec binds a dataset to its table layout.
type tableSpec struct {
	table     string
	keyColumn string   // natural key alongside trade_date
	columns   []string // non-key columns, in insert order
}

var tableSpecs = map[domain.Dataset]tableSpec{
	domain.DatasetIndex: {
		table:     "set_index",
		keyColumn: "index_name",
		columns: []string{
			"last_value", "change_value", "change_text",
			"volume_thousands", "value_million_baht",
		},
	},
	domain.DatasetSectors: {
		table:     "sector_data",
		keyColumn: "symbol",
		columns: []string{
			"sector", "open_price", "high_price", "low_price", "last_price",
			"change", "percent_change", "bid", "offer",
			"volume_shares", "value_baht",
		},
	},
	domain.DatasetInvestorFlow: {
		table:     "investor_summary",
		keyColumn: "investor_type",
		columns: []string{
			"period1_buy_value", "period1_buy_percent", "period1_sell_value", "period1_sell_percent", "period1_net_value",
			"period2_buy_value", "period2_buy_percent", "period2_sell_value", "period2_sell_percent", "period2_net_value",
			"period3_buy_value", "period3_buy_percent", "period3_sell_value", "period3_sell_percent", "period3_net_value",
		},
	},
	domain.DatasetNVDR: {
		table:     "nvdr_trading",
		keyColumn: "symbol",
		columns: []string{
			"volume_buy", "volume_sell", "volume_total", "volume_net", "volume_percent",
			"value_buy", "value_sell", "value_total", "value_net", "value_percent",
		},
	},
	domain.DatasetShortSales: {
		table:     "short_sales_trading",
		keyColumn: "symbol",
		columns: []string{
			"short_volume_local", "short_volume_nvdr", "short_volume_total",
			"short_value_baht", "short_percentage",
			"outstanding_local", "outstanding_nvdr", "outstanding_total", "outstanding_percentage",
		},
	},
}

// Adapter persists record batches and answers staleness queries.
type Adapter struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAdapter creates a store adapter on an open database connection.
func NewAdapter(db *sql.DB, log zerolog.Logger) *Adapter {
	return &Adapter{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}
}

// Upsert writes a batch into the dataset's table within one transaction.
// Rows whose natural key already exists for the batch's trade date are
// updated in place; new keys are inserted. Returns how many rows took each
// path. A row with an empty natural key aborts the batch.
func (a *Adapter) Upsert(ctx context.Context, batch *domain.RecordBatch) (inserted, updated int, err error) {
	spec, ok := tableSpecs[batch.Dataset]
	if !ok {
		return 0, 0, fmt.Errorf("no table spec for dataset %s", batch.Dataset)
	}

	tradeDate := batch.TradeDateString()

	insertSQL := buildInsertSQL(spec)
	updateSQL := buildUpdateSQL(spec)

	err = database.WithTransaction(a.db, func(tx *sql.Tx) error {
		insertStmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return fmt.Errorf("prepare insert for %s: %w", spec.table, err)
		}
		defer insertStmt.Close()

		updateStmt, err := tx.PrepareContext(ctx, updateSQL)
		if err != nil {
			return fmt.Errorf("prepare update for %s: %w", spec.table, err)
		}
		defer updateStmt.Close()

		for i, row := range batch.Rows {
			key, _ := row[spec.keyColumn].(string)
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("row %d of %s batch has empty %s", i, batch.Dataset, spec.keyColumn)
			}

			args := make([]any, 0, len(spec.columns)+2)
			args = append(args, key, tradeDate)
			for _, col := range spec.columns {
				args = append(args, row[col])
			}

			res, err := insertStmt.ExecContext(ctx, args...)
			if err != nil {
				return fmt.Errorf("insert into %s (%s=%s): %w", spec.table, spec.keyColumn, key, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected for %s: %w", spec.table, err)
			}
			if affected > 0 {
				inserted++
				continue
			}

			// Key already present for this trade date: refresh non-key columns.
			updateArgs := make([]any, 0, len(spec.columns)+2)
			for _, col := range spec.columns {
				updateArgs = append(updateArgs, row[col])
			}
			updateArgs = append(updateArgs, key, tradeDate)
			if _, err := updateStmt.ExecContext(ctx, updateArgs...); err != nil {
				return fmt.Errorf("update %s (%s=%s): %w", spec.table, spec.keyColumn, key, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	a.log.Debug().
		Str("dataset", batch.Dataset.String()).
		Str("trade_date", tradeDate).
		Int("inserted", inserted).
		Int("updated", updated).
		Msg("Batch upserted")

	return inserted, updated, nil
}

func buildInsertSQL(spec tableSpec) string {
	cols := append([]string{spec.keyColumn, "trade_date"}, spec.columns...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		spec.table, strings.Join(cols, ", "), placeholders,
	)
}

func buildUpdateSQL(spec tableSpec) string {
	sets := make([]string, len(spec.columns))
	for i, col := range spec.columns {
		sets[i] = col + " = ?"
	}
	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = ? AND trade_date = ?",
		spec.table, strings.Join(sets, ", "), spec.keyColumn,
	)
}

// Prune deletes rows older than the keep horizon. Used on the fast tables
// after interval cycles so they hold only the current and previous trade day.
func (a *Adapter) Prune(ctx context.Context, dataset domain.Dataset, keepSince time.Time) (int64, error) {
	spec, ok := tableSpecs[dataset]
	if !ok {
		return 0, fmt.Errorf("no table spec for dataset %s", dataset)
	}

	cutoff := keepSince.Format(domain.TradeDateLayout)
	res, err := a.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE trade_date < ?", spec.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune %s before %s: %w", spec.table, cutoff, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected for %s: %w", spec.table, err)
	}

	if deleted > 0 {
		a.log.Info().
			Str("dataset", dataset.String()).
			Str("cutoff", cutoff).
			Int64("deleted", deleted).
			Msg("Pruned stale rows")
	}
	return deleted, nil
}

// LatestTradeDate returns the most recent trade date stored for a dataset.
// The boolean is false when the table holds no rows.
func (a *Adapter) LatestTradeDate(ctx context.Context, dataset domain.Dataset) (time.Time, bool, error) {
	spec, ok := tableSpecs[dataset]
	if !ok {
		return time.Time{}, false, fmt.Errorf("no table spec for dataset %s", dataset)
	}

	var latest sql.NullString
	err := a.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(trade_date) FROM %s", spec.table)).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("latest trade date for %s: %w", spec.table, err)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}

	t, err := time.Parse(domain.TradeDateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed trade date %q in %s: %w", latest.String, spec.table, err)
	}
	return t, true, nil
}

// RowCount returns the number of rows stored for a dataset on a trade date.
func (a *Adapter) RowCount(ctx context.Context, dataset domain.Dataset, tradeDate time.Time) (int, error) {
	spec, ok := tableSpecs[dataset]
	if !ok {
		return 0, fmt.Errorf("no table spec for dataset %s", dataset)
	}

	var count int
	err := a.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE trade_date = ?", spec.table),
		tradeDate.Format(domain.TradeDateLayout)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("row count for %s: %w", spec.table, err)
	}
	return count, nil
}
