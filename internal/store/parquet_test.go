package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kabuto/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, d time.Time, close float64) domain.Bar {
	return domain.Bar{
		Symbol: symbol, Date: d,
		Open: close - 1, High: close + 1, Low: close - 2, Close: close, AdjClose: close,
		Volume: 1000,
	}
}

func TestUpsertAndReadBack(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		bar("7203", date(2024, 1, 10), 100),
		bar("7203", date(2024, 1, 11), 101),
	}
	if err := s.UpsertBars(ctx, "7203", bars); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	got, err := s.ReadBars(ctx, "7203", date(2024, 1, 1), date(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars, want 2", len(got))
	}
	if !got[0].Date.Equal(date(2024, 1, 10)) || got[0].Close != 100 {
		t.Errorf("first bar = %+v", got[0])
	}
}

func TestUpsertOverwritesExistingDates(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if err := s.UpsertBars(ctx, "7203", []domain.Bar{bar("7203", date(2024, 1, 10), 100)}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Same date with a corrected close, plus a new date.
	if err := s.UpsertBars(ctx, "7203", []domain.Bar{
		bar("7203", date(2024, 1, 10), 50),
		bar("7203", date(2024, 1, 11), 51),
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.ReadBars(ctx, "7203", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars, want 2 (no duplicate dates)", len(got))
	}
	if got[0].Close != 50 {
		t.Errorf("overwritten bar Close = %v, want 50", got[0].Close)
	}
}

func TestUpsertSpansYearPartitions(t *testing.T) {
	dir := t.TempDir()
	s := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		bar("7203", date(2023, 12, 29), 90),
		bar("7203", date(2024, 1, 4), 95),
	}
	if err := s.UpsertBars(ctx, "7203", bars); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	for _, year := range []string{"2023", "2024"} {
		if _, err := os.Stat(filepath.Join(dir, "prices", "7203", year+".parquet")); err != nil {
			t.Errorf("missing partition for %s: %v", year, err)
		}
	}

	got, err := s.ReadBars(ctx, "7203", date(2023, 12, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars across partitions, want 2", len(got))
	}
	if !got[0].Date.Before(got[1].Date) {
		t.Errorf("bars not ascending: %v, %v", got[0].Date, got[1].Date)
	}
}

func TestReadBarsRangeFilter(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	var bars []domain.Bar
	for d := 8; d <= 12; d++ {
		bars = append(bars, bar("7203", date(2024, 1, d), float64(100+d)))
	}
	if err := s.UpsertBars(ctx, "7203", bars); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	got, err := s.ReadBars(ctx, "7203", date(2024, 1, 9), date(2024, 1, 11))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d bars, want 3 inside [09, 11]", len(got))
	}
}

func TestReadBarsMissingSymbol(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	got, err := s.ReadBars(context.Background(), "9999", date(2024, 1, 1), date(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars on empty store: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want no bars", got)
	}
}

func TestListSymbols(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()

	for _, sym := range []string{"9984", "7203"} {
		if err := s.UpsertBars(ctx, sym, []domain.Bar{bar(sym, date(2024, 1, 10), 100)}); err != nil {
			t.Fatalf("UpsertBars(%s): %v", sym, err)
		}
	}

	symbols, err := s.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "7203" || symbols[1] != "9984" {
		t.Errorf("symbols = %v, want [7203 9984]", symbols)
	}
}

func TestFailedUpsertReturnsError(t *testing.T) {
	dir := t.TempDir()
	s := NewParquetStore(dir)
	ctx := context.Background()

	// Occupy the symbol's directory path with a regular file so the
	// partition write cannot proceed.
	if err := os.MkdirAll(filepath.Join(dir, "prices"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prices", "7203"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err := s.UpsertBars(ctx, "7203", []domain.Bar{bar("7203", date(2024, 1, 10), 100)})
	if err == nil {
		t.Fatal("UpsertBars succeeded against a blocked partition path")
	}
}

func TestPartitionDirHasNoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewParquetStore(dir)
	ctx := context.Background()

	if err := s.UpsertBars(ctx, "7203", []domain.Bar{bar("7203", date(2024, 1, 10), 100)}); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "prices", "7203"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "2024.parquet" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("partition dir contents = %v, want only 2024.parquet", names)
	}
}
