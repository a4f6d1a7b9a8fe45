package catalog

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestUpsertAndFind(t *testing.T) {
	cat, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	date := time.Date(2015, 10, 15, 0, 0, 0, 0, time.UTC)
	e := Entry{
		Exchange: "KRX", Symbol: "KR4101", Instrument: "KR4101K60008",
		SecID: 1, Date: date, Path: "/data/20151015.KRX.KR4101.KR4101K60008.sdb",
		Depth: 5, PxStep: 0.01, UUID: "0f7f69c9-fc9d-4517-8318-706e3e58dadd", SizeBytes: 2546,
	}
	if err := cat.Upsert(e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := cat.Find("KRX", "KR4101", "KR4101K60008", date)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got.Path != e.Path || got.SizeBytes != e.SizeBytes || !got.Date.Equal(e.Date) {
		t.Errorf("Find() = %+v, want %+v", got, e)
	}
}

func TestFindMissingReturnsNoRows(t *testing.T) {
	cat, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	_, err = cat.Find("KRX", "NOPE", "NOPE", time.Now())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListBySymbolOrdersByDateDescending(t *testing.T) {
	cat, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cat.Close()

	for _, day := range []int{13, 14, 15} {
		e := Entry{
			Exchange: "KRX", Symbol: "KR4101", Instrument: "KR4101K60008",
			SecID: 1, Date: time.Date(2015, 10, day, 0, 0, 0, 0, time.UTC),
			Path: "path", Depth: 5, PxStep: 0.01, UUID: "0f7f69c9-fc9d-4517-8318-706e3e58dadd",
		}
		if err := cat.Upsert(e); err != nil {
			t.Fatalf("Upsert day %d: %v", day, err)
		}
	}

	entries, err := cat.ListBySymbol("KRX", "KR4101")
	if err != nil {
		t.Fatalf("ListBySymbol: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Date.Day() != 15 || entries[2].Date.Day() != 13 {
		t.Errorf("entries not ordered most-recent-first: %v", entries)
	}
}
