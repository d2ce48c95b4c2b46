// Package merge serializes bar upserts per symbol partition and couples
// each merge with its cursor commit. The pair behaves as one logical
// transaction: a failed merge leaves both the partition and the cursor
// untouched, and re-merging the same bars after a failed cursor commit
// converges on the same final state.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"kabuto/internal/domain"
	"kabuto/internal/meta"
	"kabuto/internal/store"
)

// Merger is the single serialization point of a run: concurrent merges
// for different symbols proceed in parallel, merges for the same symbol
// queue on that symbol's lock.
type Merger struct {
	bars    store.BarStore
	cursors meta.CursorStore
	log     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(bars store.BarStore, cursors meta.CursorStore, log *slog.Logger) *Merger {
	if log == nil {
		log = slog.Default()
	}
	return &Merger{
		bars:    bars,
		cursors: cursors,
		log:     log.With("stage", "merge"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Merge upserts bars into the symbol's partitions and commits cur while
// holding the symbol's exclusive lock. Storage faults are reported as
// domain.ErrMergeIO with the partition and cursor unchanged; a cursor
// conflict surfaces as domain.ErrStaleCursor with the bars already
// merged, which is safe to retry since the upsert is idempotent.
func (m *Merger) Merge(ctx context.Context, symbol string, bars []domain.Bar, cur domain.FetchCursor) error {
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	if len(bars) > 0 {
		if err := m.bars.UpsertBars(ctx, symbol, bars); err != nil {
			return fmt.Errorf("%s: %v: %w", symbol, err, domain.ErrMergeIO)
		}
	}
	if err := m.cursors.CommitCursor(ctx, cur); err != nil {
		return fmt.Errorf("committing cursor for %s: %w", symbol, err)
	}

	m.log.Debug("merged", "symbol", symbol, "bars", len(bars),
		"through", cur.LastConfirmedDate.Format("2006-01-02"))
	return nil
}

func (m *Merger) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[symbol]
	if !ok {
		l = new(sync.Mutex)
		m.locks[symbol] = l
	}
	return l
}
