// Package adjust detects corporate actions (splits, reverse splits,
// mergers) and retroactively rescales stored history. Detection compares
// the provider's current adjusted closes against the stored series over
// the overlap window; an explicit event feed can supplement or confirm
// the heuristic. Applied events are tracked through a per-symbol
// watermark so replaying an overlapping window is a no-op.
package adjust

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kabuto/internal/domain"
)

// Engine detects and applies adjustment events for one symbol at a time.
type Engine struct {
	tol   float64 // absolute tolerance when comparing close ratios
	scale int32   // decimal places for rescaled prices
	log   *slog.Logger
}

func New(tolerance float64, priceScale int, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{tol: tolerance, scale: int32(priceScale), log: log.With("stage", "adjust")}
}

// Detect compares incoming bars against stored history on their shared
// dates and returns the adjustment events implied by ratio shifts,
// sorted by effective date ascending. Both inputs must be sorted by
// date ascending. A ratio run that never returns toward 1.0 before the
// incoming data ends cannot be dated and is skipped with a warning.
func (e *Engine) Detect(symbol string, stored, incoming []domain.Bar) []domain.AdjustmentEvent {
	byDate := make(map[time.Time]domain.Bar, len(stored))
	for _, b := range stored {
		byDate[b.Date] = b
	}

	// Maximal runs of equal incoming/stored adjusted-close ratio over
	// the overlap dates, in date order.
	type run struct {
		ratio float64
		last  time.Time
	}
	var runs []run
	for _, in := range incoming {
		old, ok := byDate[in.Date]
		if !ok || old.AdjClose == 0 {
			continue
		}
		r := in.AdjClose / old.AdjClose
		if len(runs) > 0 && e.close(r, runs[len(runs)-1].ratio) {
			runs[len(runs)-1].last = in.Date
			continue
		}
		runs = append(runs, run{ratio: r, last: in.Date})
	}

	// A run ending at date d means every stored bar up to d carries the
	// run's ratio relative to the provider's current view. The event
	// takes effect where the next run begins, with the ratio between
	// the two runs; the final run is implicitly followed by ratio 1.
	var events []domain.AdjustmentEvent
	for i, ru := range runs {
		next := 1.0
		var eff time.Time
		if i+1 < len(runs) {
			next = runs[i+1].ratio
			eff = firstAfter(incoming, ru.last, byDate)
		} else {
			if e.close(ru.ratio, 1) {
				continue
			}
			eff = firstAfter(incoming, ru.last, nil)
			if eff.IsZero() {
				e.log.Warn("open-ended ratio shift, cannot date the event",
					"symbol", symbol, "ratio", ru.ratio, "through", ru.last.Format("2006-01-02"))
				continue
			}
		}
		ratio := ru.ratio / next
		if e.close(ratio, 1) {
			continue
		}
		ev := domain.AdjustmentEvent{
			Symbol:        symbol,
			EffectiveDate: eff,
			Ratio:         ratio,
			Kind:          domain.KindForRatio(ratio),
		}
		e.log.Info("detected adjustment", "symbol", symbol, "kind", ev.Kind,
			"ratio", ev.Ratio, "effective", eff.Format("2006-01-02"))
		events = append(events, ev)
	}
	return events
}

// firstAfter returns the first incoming bar date strictly after d. When
// overlap is non-nil the date must also be an overlap date (a run
// boundary lies between two compared dates). Zero when none exists.
func firstAfter(incoming []domain.Bar, d time.Time, overlap map[time.Time]domain.Bar) time.Time {
	for _, b := range incoming {
		if !b.Date.After(d) {
			continue
		}
		if overlap != nil {
			if _, ok := overlap[b.Date]; !ok {
				continue
			}
		}
		return b.Date
	}
	return time.Time{}
}

// Merge combines heuristically detected events with an explicit feed,
// sorted ascending. Events sharing an effective date collapse into one
// when their ratios agree within tolerance; disagreeing same-date
// events are a conflict and the whole set is rejected with
// domain.ErrAmbiguousAdjustment.
func (e *Engine) Merge(detected, explicit []domain.AdjustmentEvent) ([]domain.AdjustmentEvent, error) {
	all := make([]domain.AdjustmentEvent, 0, len(detected)+len(explicit))
	all = append(all, detected...)
	all = append(all, explicit...)
	sort.Slice(all, func(i, j int) bool { return all[i].EffectiveDate.Before(all[j].EffectiveDate) })

	var out []domain.AdjustmentEvent
	for _, ev := range all {
		if len(out) > 0 && out[len(out)-1].EffectiveDate.Equal(ev.EffectiveDate) {
			prev := out[len(out)-1]
			if e.close(prev.Ratio, ev.Ratio) {
				continue
			}
			return nil, fmt.Errorf("%s: events %v and %v both effective %s: %w",
				ev.Symbol, prev.Ratio, ev.Ratio, ev.EffectiveDate.Format("2006-01-02"),
				domain.ErrAmbiguousAdjustment)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Apply replays events in ascending effective-date order over the
// stored history, skipping events at or before the watermark. It
// returns the rescaled rows as a fresh batch (stored is not mutated)
// and the new watermark. An empty result with the unchanged watermark
// means every event had already been applied.
func (e *Engine) Apply(stored []domain.Bar, events []domain.AdjustmentEvent, watermark time.Time) ([]domain.Bar, time.Time) {
	// Work on a copy so consecutive events compound correctly while the
	// caller's slice stays untouched.
	work := make([]domain.Bar, len(stored))
	copy(work, stored)
	touched := make(map[int]bool)

	applied := watermark
	for _, ev := range events {
		if !ev.EffectiveDate.After(applied) {
			continue
		}
		r := decimal.NewFromFloat(ev.Ratio)
		for i := range work {
			if !work[i].Date.Before(ev.EffectiveDate) {
				continue
			}
			work[i].Open = e.mul(work[i].Open, r)
			work[i].High = e.mul(work[i].High, r)
			work[i].Low = e.mul(work[i].Low, r)
			work[i].Close = e.mul(work[i].Close, r)
			work[i].AdjClose = e.mul(work[i].AdjClose, r)
			work[i].Volume = divVolume(work[i].Volume, r)
			touched[i] = true
		}
		applied = ev.EffectiveDate
	}

	var rescaled []domain.Bar
	for i := range work {
		if touched[i] {
			rescaled = append(rescaled, work[i])
		}
	}
	return rescaled, applied
}

func (e *Engine) mul(v float64, r decimal.Decimal) float64 {
	f, _ := decimal.NewFromFloat(v).Mul(r).Round(e.scale).Float64()
	return f
}

func divVolume(v int64, r decimal.Decimal) int64 {
	if r.IsZero() {
		return v
	}
	return decimal.NewFromInt(v).Div(r).Round(0).IntPart()
}

func (e *Engine) close(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= e.tol
}
