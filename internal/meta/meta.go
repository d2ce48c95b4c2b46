// Package meta implements the durable metadata store: per-symbol fetch
// cursors with optimistic-concurrency commits, and the persisted listing
// snapshot the universe resolver diffs against.
package meta

import (
	"context"
	"time"

	"kabuto/internal/domain"
)

// CursorStore is the cursor surface consumed by the planner and the
// merger. Implementations must make commits durable before returning and
// must never partially update a record.
type CursorStore interface {
	// GetCursor returns the cursor for symbol, or a zero-valued cursor
	// (Version 0) when the symbol has never been seen.
	GetCursor(ctx context.Context, symbol string) (domain.FetchCursor, error)

	// CommitCursor durably replaces the cursor record. cur.Version must be
	// the version last read for the symbol; on mismatch the commit fails
	// with domain.ErrStaleCursor and nothing changes. Moving
	// LastConfirmedDate backwards fails with domain.ErrCursorRegression.
	CommitCursor(ctx context.Context, cur domain.FetchCursor) error

	// ListCursors returns all cursors ordered by symbol, for reporting.
	ListCursors(ctx context.Context) ([]domain.FetchCursor, error)
}

// SnapshotStore persists the listing universe between runs.
type SnapshotStore interface {
	// SaveSnapshot replaces the stored snapshot with records. Existing
	// symbols absent from records are retained untouched; tickers are
	// never deleted.
	SaveSnapshot(ctx context.Context, records []domain.TickerRecord) error

	// LoadSnapshot returns all stored ticker records ordered by symbol.
	LoadSnapshot(ctx context.Context) ([]domain.TickerRecord, error)
}

const dateLayout = "2006-01-02"

// encodeDate maps a zero time to the empty string so "never fetched" and
// "not delisted" survive round trips.
func encodeDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return domain.Day(t).Format(dateLayout)
}

func decodeDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
