package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"kabuto/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore with one Parquet file per symbol and
// year. Partition replacement is atomic: records are written to a temp
// file in the same directory and renamed over the original, so readers
// and failed writes never observe a half-written partition.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema for a daily bar.
type barRecord struct {
	Symbol   string  `parquet:"symbol"`
	Date     int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, midnight UTC
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	AdjClose float64 `parquet:"adj_close"`
	Volume   int64   `parquet:"volume"`
}

// UpsertBars merges bars into the symbol's year partitions. Within each
// partition, existing dates are overwritten by the incoming rows
// (last-write-wins) and the result is kept sorted by date.
func (s *ParquetStore) UpsertBars(_ context.Context, symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]barRecord)
	for _, b := range bars {
		d := domain.Day(b.Date)
		groups[d.Year()] = append(groups[d.Year()], barRecord{
			Symbol:   symbol,
			Date:     d.UnixMilli(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   b.Volume,
		})
	}

	for year, records := range groups {
		path := s.barPath(symbol, year)

		existing, err := readPartition(path)
		if err != nil {
			return fmt.Errorf("reading partition %s: %w", path, err)
		}
		merged := mergeRecords(existing, records)

		if err := replacePartition(path, merged); err != nil {
			return fmt.Errorf("writing partition %s: %w", path, err)
		}
	}
	return nil
}

// ReadBars returns the stored bars for symbol within [start, end],
// sorted by date ascending.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	start, end = domain.Day(start), domain.Day(end)

	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readPartition(s.barPath(symbol, year))
		if err != nil {
			return nil, fmt.Errorf("reading partition for %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			d := time.UnixMilli(r.Date).UTC()
			if d.Before(start) || d.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:   r.Symbol,
				Date:     d,
				Open:     r.Open,
				High:     r.High,
				Low:      r.Low,
				Close:    r.Close,
				AdjClose: r.AdjClose,
				Volume:   r.Volume,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// ListSymbols returns every symbol directory under the price root.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "prices"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// barPath returns <dataDir>/prices/<SYMBOL>/<YYYY>.parquet.
func (s *ParquetStore) barPath(symbol string, year int) string {
	return filepath.Join(s.DataDir, "prices", symbol, fmt.Sprintf("%d.parquet", year))
}

// readPartition loads a partition; a missing file is an empty partition.
func readPartition(path string) ([]barRecord, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return parquet.ReadFile[barRecord](path)
}

// replacePartition writes records to a temp file beside path and renames
// it into place.
func replacePartition(path string, records []barRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := parquet.WriteFile(tmpPath, records); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// mergeRecords deduplicates by date, preferring incoming records, and
// sorts ascending.
func mergeRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}
