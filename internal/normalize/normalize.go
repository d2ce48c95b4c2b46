// Package normalize turns provider-reported raw bars into canonical bars:
// dates truncated to midnight UTC, duplicates collapsed keeping the last
// occurrence, prices rounded to a fixed decimal scale, and structurally
// invalid rows quarantined instead of stored.
package normalize

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"kabuto/internal/domain"
)

// Quarantined is a raw row rejected during normalization, kept for the
// run report rather than silently dropped.
type Quarantined struct {
	Bar    domain.RawBar
	Reason string
}

// Normalizer validates and canonicalizes one fetch batch at a time.
type Normalizer struct {
	scale     int32
	threshold float64 // quarantined fraction above which the whole batch is rejected
	log       *slog.Logger
}

// New creates a Normalizer rounding prices to scale decimal places.
// A batch whose quarantined fraction exceeds threshold fails as a whole
// with domain.ErrBatchQuality.
func New(scale int, threshold float64, log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{scale: int32(scale), threshold: threshold, log: log.With("stage", "normalize")}
}

// Normalize produces the canonical bars of a raw batch. Duplicate dates
// keep the last occurrence in provider order. The returned bars are
// sorted by date ascending and unique per date; quarantined rows are
// returned alongside. When the quarantined share of a non-empty batch
// exceeds the threshold, no bars are returned and the error wraps
// domain.ErrBatchQuality.
func (n *Normalizer) Normalize(symbol string, raw []domain.RawBar) ([]domain.Bar, []Quarantined, error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}

	var quarantined []Quarantined
	byDate := make(map[string]domain.Bar, len(raw))

	for _, r := range raw {
		if reason := validate(r); reason != "" {
			n.log.Warn("quarantined bar", "symbol", symbol, "date", r.Date.Format("2006-01-02"),
				"batch", r.SourceBatchID, "reason", reason)
			quarantined = append(quarantined, Quarantined{Bar: r, Reason: reason})
			continue
		}
		day := domain.Day(r.Date)
		// Later occurrences win: the provider's most recent row for a
		// date supersedes earlier ones in the same batch.
		byDate[day.Format("2006-01-02")] = domain.Bar{
			Symbol:   symbol,
			Date:     day,
			Open:     n.round(r.Open),
			High:     n.round(r.High),
			Low:      n.round(r.Low),
			Close:    n.round(r.Close),
			AdjClose: n.round(r.AdjClose),
			Volume:   r.Volume,
		}
	}

	if frac := float64(len(quarantined)) / float64(len(raw)); frac > n.threshold {
		return nil, quarantined, fmt.Errorf("%s: %d of %d rows quarantined: %w",
			symbol, len(quarantined), len(raw), domain.ErrBatchQuality)
	}

	bars := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, quarantined, nil
}

func (n *Normalizer) round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(n.scale).Float64()
	return f
}

// validate returns a non-empty reason when the row cannot be a real
// trading bar.
func validate(r domain.RawBar) string {
	switch {
	case r.Date.IsZero():
		return "missing date"
	case r.Open <= 0 || r.High <= 0 || r.Low <= 0 || r.Close <= 0 || r.AdjClose <= 0:
		return "non-positive price"
	case r.High < r.Low:
		return "high below low"
	case r.Open > r.High || r.Open < r.Low:
		return "open outside range"
	case r.Close > r.High || r.Close < r.Low:
		return "close outside range"
	case r.Volume < 0:
		return "negative volume"
	}
	return ""
}
