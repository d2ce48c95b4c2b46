package universe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kabuto/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveClassification(t *testing.T) {
	prev := []domain.TickerRecord{
		{Symbol: "7203", ListingDate: date(1949, 5, 16), Status: domain.TickerActive},
		{Symbol: "9984", ListingDate: date(1994, 7, 22), Status: domain.TickerActive},
		{Symbol: "8411", ListingDate: date(2003, 3, 12), Status: domain.TickerActive},
	}
	next := []domain.TickerRecord{
		{Symbol: "7203", ListingDate: date(1949, 5, 16)},
		{Symbol: "9984", ListingDate: date(1994, 7, 22)},
		{Symbol: "4755", ListingDate: date(2024, 4, 1)}, // new listing
	}

	d := Resolve(prev, next, nil)

	if len(d.New) != 1 || d.New[0].Symbol != "4755" || d.New[0].Status != domain.TickerNew {
		t.Errorf("New = %+v", d.New)
	}
	if len(d.Unchanged) != 2 {
		t.Errorf("Unchanged = %+v", d.Unchanged)
	}
	if len(d.Delisted) != 1 || d.Delisted[0].Symbol != "8411" {
		t.Fatalf("Delisted = %+v", d.Delisted)
	}
	if d.Delisted[0].Status != domain.TickerDelisted {
		t.Errorf("absent symbol should transition to delisted, got %q", d.Delisted[0].Status)
	}
	// All four symbols are retained in the updated snapshot.
	if len(d.Updated) != 4 {
		t.Errorf("Updated has %d records, want 4", len(d.Updated))
	}
}

func TestResolveExplicitDelisting(t *testing.T) {
	prev := []domain.TickerRecord{
		{Symbol: "8411", ListingDate: date(2003, 3, 12), Status: domain.TickerActive},
	}
	next := []domain.TickerRecord{
		{Symbol: "8411", ListingDate: date(2003, 3, 12), DelistingDate: date(2024, 3, 29)},
	}

	d := Resolve(prev, next, nil)
	if len(d.Delisted) != 1 || !d.Delisted[0].DelistingDate.Equal(date(2024, 3, 29)) {
		t.Fatalf("Delisted = %+v", d.Delisted)
	}
	if len(d.New) != 0 || len(d.Unchanged) != 0 {
		t.Errorf("unexpected classification: new=%v unchanged=%v", d.New, d.Unchanged)
	}
}

func TestResolveListingDateAnomaly(t *testing.T) {
	prev := []domain.TickerRecord{
		{Symbol: "7203", ListingDate: date(1949, 5, 16), Status: domain.TickerActive},
	}
	next := []domain.TickerRecord{
		{Symbol: "7203", ListingDate: date(1950, 1, 4)},
	}

	d := Resolve(prev, next, nil)

	// Anomalous but still unchanged for fetch purposes.
	if len(d.Unchanged) != 1 {
		t.Fatalf("Unchanged = %+v", d.Unchanged)
	}
	if len(d.Anomalies) != 1 || d.Anomalies[0] != "7203" {
		t.Errorf("Anomalies = %v, want [7203]", d.Anomalies)
	}
	if len(d.Delisted) != 0 || len(d.New) != 0 {
		t.Error("anomalous symbol must not be reclassified")
	}
}

func TestLoadSnapshotCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listing.csv")
	content := "symbol,name,segment,listing_date,delisting_date\n" +
		"7203,トヨタ自動車,prime,1949-05-16,\n" +
		"8411,みずほFG,prime,2003-03-12,2024-03-29\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}

	got, err := LoadSnapshotCSV(path)
	if err != nil {
		t.Fatalf("LoadSnapshotCSV: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Symbol != "7203" || got[0].Status != domain.TickerActive {
		t.Errorf("first record = %+v", got[0])
	}
	if !got[1].Delisted() || got[1].Status != domain.TickerDelisted {
		t.Errorf("second record should be delisted: %+v", got[1])
	}
}
