package domain

import "errors"

// Sentinel errors shared across pipeline stages. Per-symbol errors are
// isolated and reported in the run summary; none of these abort a run on
// their own.
var (
	// ErrStaleCursor is returned by the metadata store when a cursor commit
	// carries a version that is no longer current (a concurrent run won).
	ErrStaleCursor = errors.New("stale cursor")

	// ErrCursorRegression is returned when a commit would move
	// LastConfirmedDate backwards.
	ErrCursorRegression = errors.New("cursor regression")

	// ErrSuspectEmpty marks a fetch that returned zero bars for a range
	// containing trading days. Treated as transient and retried.
	ErrSuspectEmpty = errors.New("suspect empty fetch result")

	// ErrBatchQuality marks a batch whose quarantine rate exceeded the
	// configured threshold. The symbol is excluded from the run and its
	// cursor left unchanged.
	ErrBatchQuality = errors.New("batch quality failure")

	// ErrAmbiguousAdjustment marks conflicting corporate-action signals for
	// the same effective date. The symbol is excluded for manual review.
	ErrAmbiguousAdjustment = errors.New("ambiguous adjustment")

	// ErrMergeIO marks a storage-layer fault during an upsert merge. The
	// partition is left unchanged and the cursor untouched.
	ErrMergeIO = errors.New("merge I/O failure")
)
