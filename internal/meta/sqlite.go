package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kabuto/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ CursorStore = (*Store)(nil)
var _ SnapshotStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS cursors (
	symbol               TEXT PRIMARY KEY,
	last_confirmed_date  TEXT NOT NULL DEFAULT '',
	last_run_status      TEXT NOT NULL DEFAULT '',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	adjusted_through     TEXT NOT NULL DEFAULT '',
	version              INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tickers (
	symbol         TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	segment        TEXT NOT NULL DEFAULT '',
	listing_date   TEXT NOT NULL DEFAULT '',
	delisting_date TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT ''
);
`

// Store implements CursorStore and SnapshotStore backed by a SQLite
// database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the metadata database at dbPath, applies the
// schema, and returns a ready-to-use Store. WAL mode with synchronous=FULL
// keeps single-record commits durable without blocking readers.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying metadata schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// CursorStore implementation
// ---------------------------------------------------------------------------

// GetCursor returns the cursor for symbol, or a zero-valued cursor when
// the symbol has never been seen.
func (s *Store) GetCursor(ctx context.Context, symbol string) (domain.FetchCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, last_confirmed_date, last_run_status,
		       consecutive_failures, adjusted_through, version
		FROM cursors WHERE symbol = ?`, symbol)

	cur, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FetchCursor{Symbol: symbol}, nil
	}
	if err != nil {
		return domain.FetchCursor{}, fmt.Errorf("reading cursor %s: %w", symbol, err)
	}
	return cur, nil
}

// CommitCursor replaces the cursor record under optimistic concurrency.
// The whole record changes or none of it does.
func (s *Store) CommitCursor(ctx context.Context, cur domain.FetchCursor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cursor commit: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT symbol, last_confirmed_date, last_run_status,
		       consecutive_failures, adjusted_through, version
		FROM cursors WHERE symbol = ?`, cur.Symbol)

	existing, err := scanCursor(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if cur.Version != 0 {
			return fmt.Errorf("commit %s at version %d: %w", cur.Symbol, cur.Version, domain.ErrStaleCursor)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cursors (symbol, last_confirmed_date, last_run_status,
			                     consecutive_failures, adjusted_through, version)
			VALUES (?, ?, ?, ?, ?, 1)`,
			cur.Symbol, encodeDate(cur.LastConfirmedDate), string(cur.LastRunStatus),
			cur.ConsecutiveFailures, encodeDate(cur.AdjustedThrough))
		if err != nil {
			return fmt.Errorf("inserting cursor %s: %w", cur.Symbol, err)
		}
	case err != nil:
		return fmt.Errorf("reading cursor %s for commit: %w", cur.Symbol, err)
	default:
		if existing.Version != cur.Version {
			return fmt.Errorf("commit %s at version %d, current %d: %w",
				cur.Symbol, cur.Version, existing.Version, domain.ErrStaleCursor)
		}
		if cur.LastConfirmedDate.Before(existing.LastConfirmedDate) {
			return fmt.Errorf("commit %s moves %s before %s: %w", cur.Symbol,
				encodeDate(cur.LastConfirmedDate), encodeDate(existing.LastConfirmedDate),
				domain.ErrCursorRegression)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE cursors SET last_confirmed_date = ?, last_run_status = ?,
			       consecutive_failures = ?, adjusted_through = ?, version = version + 1
			WHERE symbol = ? AND version = ?`,
			encodeDate(cur.LastConfirmedDate), string(cur.LastRunStatus),
			cur.ConsecutiveFailures, encodeDate(cur.AdjustedThrough),
			cur.Symbol, cur.Version)
		if err != nil {
			return fmt.Errorf("updating cursor %s: %w", cur.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cursor %s: %w", cur.Symbol, err)
	}
	return nil
}

// ListCursors returns all cursors ordered by symbol.
func (s *Store) ListCursors(ctx context.Context) ([]domain.FetchCursor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, last_confirmed_date, last_run_status,
		       consecutive_failures, adjusted_through, version
		FROM cursors ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("listing cursors: %w", err)
	}
	defer rows.Close()

	var out []domain.FetchCursor
	for rows.Next() {
		cur, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cursor: %w", err)
		}
		out = append(out, cur)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCursor(row scanner) (domain.FetchCursor, error) {
	var cur domain.FetchCursor
	var confirmed, status, adjusted string
	if err := row.Scan(&cur.Symbol, &confirmed, &status, &cur.ConsecutiveFailures, &adjusted, &cur.Version); err != nil {
		return domain.FetchCursor{}, err
	}

	var err error
	if cur.LastConfirmedDate, err = decodeDate(confirmed); err != nil {
		return domain.FetchCursor{}, err
	}
	if cur.AdjustedThrough, err = decodeDate(adjusted); err != nil {
		return domain.FetchCursor{}, err
	}
	cur.LastRunStatus = domain.RunStatus(status)
	return cur, nil
}

// ---------------------------------------------------------------------------
// SnapshotStore implementation
// ---------------------------------------------------------------------------

// SaveSnapshot upserts the given ticker records. Symbols already stored
// but absent from records are retained, so delisted tickers are never
// dropped from the universe history.
func (s *Store) SaveSnapshot(ctx context.Context, records []domain.TickerRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tickers (symbol, name, segment, listing_date, delisting_date, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			segment = excluded.segment,
			listing_date = excluded.listing_date,
			delisting_date = excluded.delisting_date,
			status = excluded.status`)
	if err != nil {
		return fmt.Errorf("preparing snapshot upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, r.Symbol, r.Name, r.Segment,
			encodeDate(r.ListingDate), encodeDate(r.DelistingDate), string(r.Status))
		if err != nil {
			return fmt.Errorf("upserting ticker %s: %w", r.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns all stored ticker records ordered by symbol.
func (s *Store) LoadSnapshot(ctx context.Context) ([]domain.TickerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, name, segment, listing_date, delisting_date, status
		FROM tickers ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	defer rows.Close()

	var out []domain.TickerRecord
	for rows.Next() {
		var r domain.TickerRecord
		var listing, delisting, status string
		if err := rows.Scan(&r.Symbol, &r.Name, &r.Segment, &listing, &delisting, &status); err != nil {
			return nil, fmt.Errorf("scanning ticker: %w", err)
		}
		if r.ListingDate, err = decodeDate(listing); err != nil {
			return nil, err
		}
		if r.DelistingDate, err = decodeDate(delisting); err != nil {
			return nil, err
		}
		r.Status = domain.TickerStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
