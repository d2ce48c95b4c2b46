// Package universe resolves the listing universe: it diffs a freshly
// retrieved listing snapshot against the previously stored one and
// classifies each ticker as new, delisted, or unchanged.
package universe

import (
	"log/slog"
	"sort"

	"kabuto/internal/domain"
)

// Diff is the outcome of a universe resolution.
type Diff struct {
	New       []domain.TickerRecord
	Delisted  []domain.TickerRecord
	Unchanged []domain.TickerRecord

	// Updated is the full record set to persist back to the snapshot
	// store: every previously known ticker plus the new ones, with status
	// transitions applied. Tickers are never removed.
	Updated []domain.TickerRecord

	// Anomalies lists symbols whose listing metadata changed between
	// snapshots in a way that does not affect fetch planning (for example
	// a shifted listing date). They are logged, never blocking.
	Anomalies []string
}

// Resolve diffs the previous snapshot against the next one.
//
// Classification rules: a symbol only in next is new; a symbol present in
// both is unchanged (a changed listing date is logged as an anomaly but
// still treated as unchanged for fetch purposes); a symbol only in prev,
// or one next explicitly marks with a delisting date, is delisted.
// Delisted tickers are retained in Updated with their history intact.
func Resolve(prev, next []domain.TickerRecord, log *slog.Logger) Diff {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("stage", "universe")

	prevBySym := make(map[string]domain.TickerRecord, len(prev))
	for _, r := range prev {
		prevBySym[r.Symbol] = r
	}
	nextBySym := make(map[string]struct{}, len(next))
	for _, r := range next {
		nextBySym[r.Symbol] = struct{}{}
	}

	var d Diff
	for _, r := range next {
		old, known := prevBySym[r.Symbol]
		switch {
		case !known:
			r.Status = domain.TickerNew
			d.New = append(d.New, r)
			d.Updated = append(d.Updated, r)

		case r.Delisted():
			r.Status = domain.TickerDelisted
			d.Delisted = append(d.Delisted, r)
			d.Updated = append(d.Updated, r)
			log.Info("ticker delisted", "symbol", r.Symbol, "delisting_date", r.DelistingDate.Format("2006-01-02"))

		default:
			if !old.ListingDate.IsZero() && !r.ListingDate.IsZero() && !old.ListingDate.Equal(r.ListingDate) {
				d.Anomalies = append(d.Anomalies, r.Symbol)
				log.Warn("listing date changed between snapshots",
					"symbol", r.Symbol,
					"was", old.ListingDate.Format("2006-01-02"),
					"now", r.ListingDate.Format("2006-01-02"))
			}
			r.Status = domain.TickerActive
			d.Unchanged = append(d.Unchanged, r)
			d.Updated = append(d.Updated, r)
		}
	}

	// Symbols missing from the new snapshot are treated as delisted with
	// an unknown delisting date; they stop being planned once the provider
	// confirms (or their cursor covers) the delisting.
	for _, r := range prev {
		if _, still := nextBySym[r.Symbol]; still {
			continue
		}
		if r.Status != domain.TickerDelisted {
			log.Info("ticker absent from snapshot, marking delisted", "symbol", r.Symbol)
			r.Status = domain.TickerDelisted
		}
		d.Delisted = append(d.Delisted, r)
		d.Updated = append(d.Updated, r)
	}

	sort.Slice(d.Updated, func(i, j int) bool { return d.Updated[i].Symbol < d.Updated[j].Symbol })
	return d
}
