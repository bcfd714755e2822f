package lake

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/model"
)

func dailyDescriptor() catalog.DatasetDescriptor {
	return catalog.DatasetDescriptor{
		Name:       "daily",
		PrimaryKey: []string{"symbol", "trade_date"},
		DateColumn: "trade_date",
		Strategy:   catalog.StrategyIncremental,
		PerSymbol:  true,
		Columns: []model.Column{
			{Name: "symbol", Type: model.ColumnString},
			{Name: "trade_date", Type: model.ColumnDate},
			{Name: "close", Type: model.ColumnFloat64},
		},
	}
}

func basicDescriptor() catalog.DatasetDescriptor {
	return catalog.DatasetDescriptor{
		Name:       "stock_basic",
		PrimaryKey: []string{"symbol"},
		Strategy:   catalog.StrategyFullReplace,
		Columns: []model.Column{
			{Name: "symbol", Type: model.ColumnString},
			{Name: "name", Type: model.ColumnString},
		},
	}
}

func openTestLake(t *testing.T) *Lake {
	t.Helper()
	root := t.TempDir()
	l, err := Open(filepath.Join(root, "data"), filepath.Join(root, "manifest.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse date %s: %v", s, err)
	}
	return d
}

func TestAppendNeverOverwritesAndTracksLatest(t *testing.T) {
	t.Parallel()
	l := openTestLake(t)
	ds := dailyDescriptor()
	ctx := context.Background()

	first := model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "trade_date": mustDate(t, "2024-01-02"), "close": 10.1},
		{"symbol": "600000.SH", "trade_date": mustDate(t, "2024-01-03"), "close": 10.2},
	}}
	if err := l.Append(ctx, ds, first); err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	second := model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "trade_date": mustDate(t, "2024-01-04"), "close": 10.3},
	}}
	if err := l.Append(ctx, ds, second); err != nil {
		t.Fatalf("Append #2: %v", err)
	}

	files := l.man.listFiles(ds.Name)
	if len(files) != 2 {
		t.Fatalf("got %d partition files, want 2 (append must never overwrite)", len(files))
	}

	latest, err := l.LatestDate(ctx, ds.Name, "600000.SH")
	if err != nil {
		t.Fatalf("LatestDate: %v", err)
	}
	if !latest.Equal(mustDate(t, "2024-01-04")) {
		t.Fatalf("latest = %v, want 2024-01-04", latest)
	}
}

func TestLatestDateUnknownReturnsErrNoPartitions(t *testing.T) {
	t.Parallel()
	l := openTestLake(t)
	_, err := l.LatestDate(context.Background(), "daily", "000001.SZ")
	if !errors.Is(err, ErrNoPartitions) {
		t.Fatalf("err = %v, want ErrNoPartitions", err)
	}
}

func TestReplaceSwapsInWholeNewGeneration(t *testing.T) {
	t.Parallel()
	l := openTestLake(t)
	ds := basicDescriptor()
	ctx := context.Background()

	gen1 := model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "name": "Pudong Bank"},
	}}
	if err := l.Replace(ctx, ds, gen1); err != nil {
		t.Fatalf("Replace #1: %v", err)
	}

	cols := descriptorColumns(ds)
	files := l.man.listFiles(ds.Name)
	if len(files) != 1 {
		t.Fatalf("got %d files after first replace, want 1", len(files))
	}
	rows, err := readParquetFile(files[0].Path, cols)
	if err != nil {
		t.Fatalf("readParquetFile: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "Pudong Bank" {
		t.Fatalf("unexpected rows after first replace: %+v", rows)
	}

	gen2 := model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "name": "Pudong Development Bank"},
		{"symbol": "000001.SZ", "name": "Ping An Bank"},
	}}
	if err := l.Replace(ctx, ds, gen2); err != nil {
		t.Fatalf("Replace #2: %v", err)
	}

	files = l.man.listFiles(ds.Name)
	if len(files) != 1 {
		t.Fatalf("got %d files after second replace, want 1 (old generation must be gone)", len(files))
	}
	rows, err = readParquetFile(files[0].Path, cols)
	if err != nil {
		t.Fatalf("readParquetFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows after second replace, want 2", len(rows))
	}
}

func TestRebuildManifestRecoversLatestDateFromDisk(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	ds := dailyDescriptor()
	ctx := context.Background()

	l1, err := Open(dataDir, filepath.Join(root, "manifest.db"))
	if err != nil {
		t.Fatalf("Open #1: %v", err)
	}
	if err := l1.Append(ctx, ds, model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "trade_date": mustDate(t, "2024-01-02"), "close": 10.1},
	}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	l1.Close()

	// Fresh manifest store (simulating the durable store being lost or
	// never populated) pointed at the same data directory.
	l2, err := Open(dataDir, filepath.Join(root, "manifest-fresh.db"))
	if err != nil {
		t.Fatalf("Open #2: %v", err)
	}
	defer l2.Close()

	if _, err := l2.LatestDate(ctx, ds.Name, "600000.SH"); !errors.Is(err, ErrNoPartitions) {
		t.Fatalf("expected fresh manifest to know nothing yet, err = %v", err)
	}

	if err := l2.RebuildManifest(ctx, ds); err != nil {
		t.Fatalf("RebuildManifest: %v", err)
	}
	latest, err := l2.LatestDate(ctx, ds.Name, "600000.SH")
	if err != nil {
		t.Fatalf("LatestDate after rebuild: %v", err)
	}
	if !latest.Equal(mustDate(t, "2024-01-02")) {
		t.Fatalf("latest = %v, want 2024-01-02", latest)
	}
}

func TestCompactMergesOlderYearsAndKeepsCurrentYear(t *testing.T) {
	t.Parallel()
	l := openTestLake(t)
	ds := dailyDescriptor()
	ctx := context.Background()

	oldYear := time.Now().UTC().Year() - 2
	mkDate := func(month, day int) time.Time {
		return time.Date(oldYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	}

	if err := l.Append(ctx, ds, model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "trade_date": mkDate(1, 2), "close": 1.0},
	}}); err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	if err := l.Append(ctx, ds, model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "trade_date": mkDate(1, 2), "close": 1.5}, // same PK, newer write wins
		{"symbol": "600000.SH", "trade_date": mkDate(1, 3), "close": 2.0},
	}}); err != nil {
		t.Fatalf("Append #2: %v", err)
	}
	if err := l.Append(ctx, ds, model.Table{Rows: []model.Row{
		{"symbol": "600000.SH", "trade_date": mustDate(t, time.Now().UTC().Format("2006-01-02")), "close": 9.0},
	}}); err != nil {
		t.Fatalf("Append (current year): %v", err)
	}

	if err := l.Compact(ctx, ds); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	files := l.man.listFiles(ds.Name)
	var oldYearFiles, currentYearFiles int
	currentYear := time.Now().UTC().Year()
	for _, f := range files {
		switch f.Year {
		case oldYear:
			oldYearFiles++
		case currentYear:
			currentYearFiles++
		}
	}
	if oldYearFiles != 1 {
		t.Fatalf("got %d files for old year after compaction, want 1 merged file", oldYearFiles)
	}
	if currentYearFiles != 1 {
		t.Fatalf("got %d files for current year, want 1 untouched append file", currentYearFiles)
	}

	cols := descriptorColumns(ds)
	for _, f := range files {
		if f.Year != oldYear {
			continue
		}
		rows, err := readParquetFile(f.Path, cols)
		if err != nil {
			t.Fatalf("readParquetFile: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("compacted old-year file has %d rows, want 2 (deduped by primary key)", len(rows))
		}
		for _, row := range rows {
			d, _ := row.DateValue(ds.DateColumn)
			if d.Equal(mkDate(1, 2)) && row["close"] != 1.5 {
				t.Fatalf("expected dedup to keep last-written close=1.5, got %v", row["close"])
			}
		}
	}
}
