// Package store persists canonical daily bars in Parquet files
// partitioned by symbol and year.
package store

import (
	"context"
	"time"

	"kabuto/internal/domain"
)

// BarStore is the durable home of canonical bars. Implementations must
// make UpsertBars atomic per partition: a failed write leaves the
// partition exactly as it was.
type BarStore interface {
	// UpsertBars merges bars for one symbol into its partitions,
	// inserting new dates and overwriting existing ones.
	UpsertBars(ctx context.Context, symbol string, bars []domain.Bar) error

	// ReadBars returns the stored bars for symbol within [start, end],
	// sorted by date ascending.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns every symbol with stored bars, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}
