package universe

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"kabuto/internal/domain"
)

// LoadSnapshotCSV reads a listing snapshot produced by the listing
// scraper. The file must have a header row followed by
// symbol,name,segment,listing_date,delisting_date rows; delisting_date
// may be empty. Dates are YYYY-MM-DD.
func LoadSnapshotCSV(path string) ([]domain.TickerRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	out := make([]domain.TickerRecord, 0, len(records)-1)
	for i, row := range records[1:] {
		if len(row) < 5 {
			return nil, fmt.Errorf("snapshot %s row %d: want 5 columns, got %d", path, i+2, len(row))
		}

		rec := domain.TickerRecord{
			Symbol:  strings.TrimSpace(row[0]),
			Name:    strings.TrimSpace(row[1]),
			Segment: strings.TrimSpace(row[2]),
		}
		if rec.Symbol == "" {
			continue
		}

		if v := strings.TrimSpace(row[3]); v != "" {
			if rec.ListingDate, err = time.Parse("2006-01-02", v); err != nil {
				return nil, fmt.Errorf("snapshot %s row %d listing date: %w", path, i+2, err)
			}
		}
		if v := strings.TrimSpace(row[4]); v != "" {
			if rec.DelistingDate, err = time.Parse("2006-01-02", v); err != nil {
				return nil, fmt.Errorf("snapshot %s row %d delisting date: %w", path, i+2, err)
			}
			rec.Status = domain.TickerDelisted
		} else {
			rec.Status = domain.TickerActive
		}
		out = append(out, rec)
	}
	return out, nil
}
