package adjust

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"kabuto/internal/domain"
)

// ParseRatio converts a split notation like "1:2" (one old share becomes
// two, halving the price) into the price factor, here 0.5. Full-width
// separators and digits from Japanese source feeds are accepted.
func ParseRatio(s string) (float64, error) {
	norm := strings.Map(func(r rune) rune {
		switch {
		case r == '：':
			return ':'
		case r >= '０' && r <= '９':
			return '0' + (r - '０')
		case r == '．':
			return '.'
		}
		return r
	}, strings.TrimSpace(s))

	left, right, ok := strings.Cut(norm, ":")
	if !ok {
		return 0, fmt.Errorf("ratio %q: missing separator", s)
	}
	l, err := strconv.ParseFloat(strings.TrimSpace(left), 64)
	if err != nil {
		return 0, fmt.Errorf("ratio %q: %w", s, err)
	}
	r, err := strconv.ParseFloat(strings.TrimSpace(right), 64)
	if err != nil {
		return 0, fmt.Errorf("ratio %q: %w", s, err)
	}
	if l <= 0 || r <= 0 {
		return 0, fmt.Errorf("ratio %q: sides must be positive", s)
	}
	return l / r, nil
}

// LoadEventsCSV reads an explicit corporate-action feed with header
// symbol,effective_date,ratio where ratio uses the "1:2" notation.
// A missing file is not an error; it simply yields no events.
func LoadEventsCSV(path string) ([]domain.AdjustmentEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event feed: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading event feed: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var events []domain.AdjustmentEvent
	for i, row := range rows[1:] { // skip header
		if len(row) < 3 {
			return nil, fmt.Errorf("event feed row %d: want 3 columns, got %d", i+2, len(row))
		}
		eff, err := time.Parse("2006-01-02", strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("event feed row %d: %w", i+2, err)
		}
		ratio, err := ParseRatio(row[2])
		if err != nil {
			return nil, fmt.Errorf("event feed row %d: %w", i+2, err)
		}
		events = append(events, domain.AdjustmentEvent{
			Symbol:        strings.TrimSpace(row[0]),
			EffectiveDate: domain.Day(eff),
			Ratio:         ratio,
			Kind:          domain.KindForRatio(ratio),
		})
	}
	return events, nil
}
