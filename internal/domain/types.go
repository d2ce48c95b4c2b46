// Package domain defines the core data types shared across the ingestion
// pipeline: ticker records, fetch cursors, raw and canonical bars, and
// corporate-action adjustment events.
package domain

import "time"

// TickerStatus describes the lifecycle state of a listed instrument.
type TickerStatus string

const (
	TickerActive   TickerStatus = "active"
	TickerNew      TickerStatus = "new"
	TickerDelisted TickerStatus = "delisted"
)

// RunStatus is the per-symbol outcome of an ingestion run.
type RunStatus string

const (
	RunOK      RunStatus = "ok"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// TickerRecord is one instrument in the listing universe. Records are
// created or updated once per universe resolution and never deleted;
// delisted instruments keep their history with Status set to delisted.
type TickerRecord struct {
	Symbol        string
	Name          string
	Segment       string // listing segment, e.g. "prime", "standard", "growth"
	ListingDate   time.Time
	DelistingDate time.Time // zero while still listed
	Status        TickerStatus
}

// Delisted reports whether the record carries a delisting date.
func (t TickerRecord) Delisted() bool {
	return !t.DelistingDate.IsZero()
}

// FetchCursor is the per-symbol ingestion bookmark. It is owned by the
// metadata store and mutated only through CommitCursor, which requires
// the Version last read (optimistic concurrency). LastConfirmedDate is
// monotonically non-decreasing and never moves past a date whose merge
// has not been durably committed.
type FetchCursor struct {
	Symbol              string
	LastConfirmedDate   time.Time // zero when the symbol has never been fetched
	LastRunStatus       RunStatus
	ConsecutiveFailures int
	AdjustedThrough     time.Time // applied-adjustment watermark
	Version             int64     // optimistic-concurrency token; 0 for an unseen symbol
}

// RawBar is one provider-reported daily OHLCV row, exactly as validated at
// the provider boundary. RawBars are immutable once produced by a fetch.
type RawBar struct {
	Symbol        string
	Date          time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	AdjClose      float64
	Volume        int64
	SourceBatchID string
}

// Bar is the canonical daily bar stored durably, unique per (symbol, date)
// with dates strictly ascending per symbol. Non-trading days are simply
// absent; no gap filling is performed.
type Bar struct {
	Symbol   string
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   int64
}

// AdjustmentKind distinguishes splits from reverse splits / mergers.
type AdjustmentKind string

const (
	AdjustmentSplit AdjustmentKind = "split"
	AdjustmentMerge AdjustmentKind = "merge"
)

// AdjustmentEvent is a corporate action discovered either heuristically
// (stored adjusted series diverging from the provider's current view) or
// from an explicit ratio feed. Ratio is the factor applied to prices of
// bars dated strictly before EffectiveDate; volume scales by 1/Ratio.
// A 2:1 split therefore carries Ratio 0.5.
type AdjustmentEvent struct {
	Symbol        string
	EffectiveDate time.Time
	Ratio         float64
	Kind          AdjustmentKind
}

// KindForRatio maps a ratio to the event kind: prices shrinking means a
// split, prices growing means a merger (reverse split).
func KindForRatio(ratio float64) AdjustmentKind {
	if ratio < 1 {
		return AdjustmentSplit
	}
	return AdjustmentMerge
}

// Day truncates t to midnight UTC. All bar dates and cursor dates are
// normalized through this before comparison or storage.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
