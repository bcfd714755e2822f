// Package lake implements the Persistence Layer (spec.md C3): a
// year-partitioned columnar data lake on local disk, written either by
// append (incremental datasets, files are immutable once published) or by
// full-replace (reference datasets, staged then swapped in atomically).
//
// Physical files are Parquet (github.com/xitongsys/parquet-go), the same
// family of dependency the rest of the retrieved example pack reaches for
// when it needs a columnar on-disk format (see other_examples' S3+Parquet
// OHLCV pipelines). Durable bookkeeping about which files exist follows
// cuemby-warren's bbolt-backed store (pkg/storage/boltdb.go).
package lake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/model"
)

// Lake is the process-wide handle to the on-disk data lake. One Lake serves
// every dataset; per-dataset locking keeps concurrent append/replace/compact
// calls for different datasets from blocking each other.
type Lake struct {
	root  string
	store *manifestStore
	man   *manifest

	dsLocks   sync.Mutex
	locksByDS map[string]*sync.Mutex
}

// Open opens (creating if absent) the data lake rooted at root, backed by a
// bbolt manifest store at manifestPath. It rebuilds the in-memory manifest
// from the durable store; callers that suspect the store is stale or
// missing should follow up with RebuildManifest per dataset.
func Open(root, manifestPath string) (*Lake, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("lake: create root %s: %w", root, err)
	}
	store, err := openManifestStore(manifestPath)
	if err != nil {
		return nil, err
	}
	l := &Lake{
		root:      root,
		store:     store,
		man:       newManifest(),
		locksByDS: make(map[string]*sync.Mutex),
	}

	files, err := store.loadAll()
	if err != nil {
		store.Close()
		return nil, err
	}
	for ds, fs := range files {
		l.man.replaceFiles(ds, fs)
	}
	latest, err := store.loadLatest()
	if err != nil {
		store.Close()
		return nil, err
	}
	for ds, bySymbol := range latest {
		for symbol, d := range bySymbol {
			l.man.setLatest(ds, symbol, d)
		}
	}
	return l, nil
}

// Close releases the manifest store's file handle.
func (l *Lake) Close() error {
	return l.store.Close()
}

func (l *Lake) lockFor(dataset string) *sync.Mutex {
	l.dsLocks.Lock()
	defer l.dsLocks.Unlock()
	mu, ok := l.locksByDS[dataset]
	if !ok {
		mu = &sync.Mutex{}
		l.locksByDS[dataset] = mu
	}
	return mu
}

func (l *Lake) datasetDir(dataset string) string {
	return filepath.Join(l.root, dataset)
}

// Append writes rows as a brand-new, never-overwritten partition file
// (spec.md §4.3: "append strategy never mutates an existing file"). Rows are
// grouped by calendar year of the dataset's date column (whole-table rows
// for datasets without one); every row is persisted regardless of whether
// its date falls inside the task's requested [start,end] window, since the
// vendor response is the source of truth once fetched.
func (l *Lake) Append(ctx context.Context, ds catalog.DatasetDescriptor, rows model.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := l.lockFor(ds.Name)
	mu.Lock()
	defer mu.Unlock()

	if rows.Empty() {
		return nil
	}

	byYear, err := groupByYear(ds, rows.Rows)
	if err != nil {
		return err
	}

	cols := descriptorColumns(ds)
	for year, yearRows := range byYear {
		dir := l.yearDir(ds.Name, year)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("lake: create partition dir %s: %w", dir, err)
		}
		name := fmt.Sprintf("%d-%s.parquet", time.Now().UnixNano(), uuid.NewString())
		final := filepath.Join(dir, name)
		tmp := final + ".tmp"

		if err := writeParquetFile(tmp, cols, yearRows); err != nil {
			os.Remove(tmp)
			return err
		}
		if err := fsyncFile(tmp); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("lake: fsync %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, final); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("lake: publish %s: %w", final, err)
		}

		pf := partitionFile{Year: year, Seq: time.Now().UnixNano(), Path: final, Rows: len(yearRows)}
		l.man.addFile(ds.Name, pf)
		if err := l.store.saveFile(ds.Name, pf); err != nil {
			return err
		}
	}

	l.bumpLatestFromRows(ds, rows.Rows)
	return nil
}

// Replace atomically swaps a full-replace dataset's entire contents for
// rows. A staging directory is built in full before anything published is
// touched; the swap itself is a directory rename, so readers never observe
// a half-written dataset (spec.md Open Question: full-replace atomicity).
func (l *Lake) Replace(ctx context.Context, ds catalog.DatasetDescriptor, rows model.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := l.lockFor(ds.Name)
	mu.Lock()
	defer mu.Unlock()

	cols := descriptorColumns(ds)
	stagingDir := l.datasetDir(ds.Name) + ".staging-" + uuid.NewString()
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("lake: create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir) // no-op once the rename below has moved it

	var newFiles []partitionFile
	if ds.HasDateColumn() {
		byYear, err := groupByYear(ds, rows.Rows)
		if err != nil {
			return err
		}
		for year, yearRows := range byYear {
			dir := filepath.Join(stagingDir, yearPartitionName(year))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, "data.parquet")
			if err := writeParquetFile(path, cols, yearRows); err != nil {
				return err
			}
			newFiles = append(newFiles, partitionFile{Year: year, Seq: 0, Path: path, Rows: len(yearRows)})
		}
	} else {
		path := filepath.Join(stagingDir, "data.parquet")
		if err := writeParquetFile(path, cols, rows.Rows); err != nil {
			return err
		}
		newFiles = append(newFiles, partitionFile{Year: 0, Seq: 0, Path: path, Rows: len(rows.Rows)})
	}

	liveDir := l.datasetDir(ds.Name)
	oldDir := liveDir + ".old-" + fmt.Sprintf("%d", time.Now().UnixNano())

	if _, err := os.Stat(liveDir); err == nil {
		if err := os.Rename(liveDir, oldDir); err != nil {
			return fmt.Errorf("lake: move old dataset dir aside: %w", err)
		}
	}
	if err := os.Rename(stagingDir, liveDir); err != nil {
		// Best-effort restore of the previous generation so a failed swap
		// doesn't leave the dataset directory missing entirely.
		os.Rename(oldDir, liveDir)
		return fmt.Errorf("lake: publish staged dataset: %w", err)
	}
	os.RemoveAll(oldDir)

	// Re-point newFiles at their final on-disk location (they were written
	// under stagingDir, which no longer exists under that name).
	for i := range newFiles {
		rel, err := filepath.Rel(stagingDir, newFiles[i].Path)
		if err != nil {
			return err
		}
		newFiles[i].Path = filepath.Join(liveDir, rel)
	}

	l.man.replaceFiles(ds.Name, newFiles)
	if err := l.store.replaceFiles(ds.Name, newFiles); err != nil {
		return err
	}
	l.man.clearLatest(ds.Name)
	if err := l.store.deleteLatestBucket(ds.Name); err != nil {
		return err
	}
	l.bumpLatestFromRows(ds, rows.Rows)
	return nil
}

// LatestDate answers the planner's central question: the newest date
// already persisted for dataset/symbol. symbol is "" for whole-market
// datasets. Returns ErrNoPartitions if nothing has ever been written.
func (l *Lake) LatestDate(_ context.Context, dataset, symbol string) (time.Time, error) {
	if d, ok := l.man.getLatest(dataset, symbol); ok {
		return d, nil
	}
	return time.Time{}, ErrNoPartitions
}

// Symbols reads the distinct values of a reference dataset's "symbol"
// column, used by the planner to resolve the per_symbol universe from a
// full-replace dataset such as stock_basic (spec.md §4.5's "symbol
// universe from a reference dataset").
func (l *Lake) Symbols(ctx context.Context, ds catalog.DatasetDescriptor) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files := l.man.listFiles(ds.Name)
	if len(files) == 0 {
		return nil, fmt.Errorf("lake: reference dataset %s has no data yet", ds.Name)
	}
	cols := descriptorColumns(ds)

	seen := make(map[string]struct{})
	var out []string
	for _, f := range files {
		rows, err := readParquetFile(f.Path, cols)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			s, ok := row["symbol"].(string)
			if !ok || s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// RebuildManifest re-derives the latest-date cache for a dataset by
// re-reading every partition file on disk. Used by the MAINT rebuild_manifest
// task when the durable store is suspected stale or was lost.
func (l *Lake) RebuildManifest(ctx context.Context, ds catalog.DatasetDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := l.lockFor(ds.Name)
	mu.Lock()
	defer mu.Unlock()

	files, err := l.scanFiles(ds)
	if err != nil {
		return err
	}
	l.man.replaceFiles(ds.Name, files)
	if err := l.store.replaceFiles(ds.Name, files); err != nil {
		return err
	}
	l.man.clearLatest(ds.Name)
	if err := l.store.deleteLatestBucket(ds.Name); err != nil {
		return err
	}

	cols := descriptorColumns(ds)
	for _, f := range files {
		rows, err := readParquetFile(f.Path, cols)
		if err != nil {
			return err
		}
		l.bumpLatestFromRows(ds, rows)
	}
	return nil
}

// Compact merges every partition file belonging to a calendar year older
// than the current year into a single file, deduplicating by primary key
// and keeping the most recently written row on conflict (spec.md Open
// Question: compaction policy). The current year is never compacted, since
// SLOW appends to it are still expected to arrive.
func (l *Lake) Compact(ctx context.Context, ds catalog.DatasetDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ds.Strategy != catalog.StrategyIncremental || !ds.HasDateColumn() {
		return nil // compaction only applies to append-partitioned, year-bucketed datasets
	}
	mu := l.lockFor(ds.Name)
	mu.Lock()
	defer mu.Unlock()

	currentYear := time.Now().UTC().Year()
	files := l.man.listFiles(ds.Name)

	byYear := make(map[int][]partitionFile)
	for _, f := range files {
		if f.Year < currentYear {
			byYear[f.Year] = append(byYear[f.Year], f)
		}
	}

	cols := descriptorColumns(ds)
	var keep []partitionFile
	for _, f := range files {
		if f.Year >= currentYear {
			keep = append(keep, f)
		}
	}

	for year, yearFiles := range byYear {
		if len(yearFiles) <= 1 {
			keep = append(keep, yearFiles...)
			continue
		}
		sort.Slice(yearFiles, func(i, j int) bool { return yearFiles[i].Seq < yearFiles[j].Seq })

		merged := make(map[string]model.Row)
		var order []string
		for _, f := range yearFiles {
			rows, err := readParquetFile(f.Path, cols)
			if err != nil {
				return err
			}
			for _, row := range rows {
				key := primaryKeyOf(ds, row)
				if _, existed := merged[key]; !existed {
					order = append(order, key)
				}
				merged[key] = row // later file (higher Seq) wins on conflict
			}
		}
		compactedRows := make([]model.Row, 0, len(order))
		for _, k := range order {
			compactedRows = append(compactedRows, merged[k])
		}

		dir := l.yearDir(ds.Name, year)
		name := fmt.Sprintf("compacted-%d-%s.parquet", time.Now().UnixNano(), uuid.NewString())
		final := filepath.Join(dir, name)
		tmp := final + ".tmp"
		if err := writeParquetFile(tmp, cols, compactedRows); err != nil {
			os.Remove(tmp)
			return err
		}
		if err := fsyncFile(tmp); err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, final); err != nil {
			os.Remove(tmp)
			return err
		}
		for _, f := range yearFiles {
			os.Remove(f.Path)
		}
		keep = append(keep, partitionFile{Year: year, Seq: time.Now().UnixNano(), Path: final, Rows: len(compactedRows)})
	}

	l.man.replaceFiles(ds.Name, keep)
	return l.store.replaceFiles(ds.Name, keep)
}

func primaryKeyOf(ds catalog.DatasetDescriptor, row model.Row) string {
	key := ""
	for _, pk := range ds.PrimaryKey {
		key += fmt.Sprintf("%v\x1f", row[pk])
	}
	return key
}

// yearPartitionName renders the year partition directory name per spec.md
// §6's on-disk contract (<root>/<dataset>/year=YYYY/<file>), which external
// analytical readers (e.g. a Hive-style partition-aware query engine) rely
// on to prune partitions by year without reading file contents.
func yearPartitionName(year int) string {
	return fmt.Sprintf("year=%d", year)
}

func (l *Lake) yearDir(dataset string, year int) string {
	return filepath.Join(l.datasetDir(dataset), yearPartitionName(year))
}

func (l *Lake) scanFiles(ds catalog.DatasetDescriptor) ([]partitionFile, error) {
	dir := l.datasetDir(ds.Name)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lake: scan %s: %w", dir, err)
	}
	var files []partitionFile
	for _, e := range entries {
		if !e.IsDir() {
			// Datasets without a date column keep one file at the dataset root.
			if filepath.Ext(e.Name()) == ".parquet" {
				files = append(files, partitionFile{Year: 0, Seq: 0, Path: filepath.Join(dir, e.Name())})
			}
			continue
		}
		var year int
		if _, err := fmt.Sscanf(e.Name(), "year=%d", &year); err != nil {
			continue
		}
		yearEntries, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for i, ye := range yearEntries {
			if ye.IsDir() || filepath.Ext(ye.Name()) != ".parquet" {
				continue
			}
			path := filepath.Join(dir, e.Name(), ye.Name())
			files = append(files, partitionFile{Year: year, Seq: int64(i), Path: path})
		}
	}
	return files, nil
}

func (l *Lake) bumpLatestFromRows(ds catalog.DatasetDescriptor, rows []model.Row) {
	if !ds.HasDateColumn() {
		return
	}
	for _, row := range rows {
		d, ok := row.DateValue(ds.DateColumn)
		if !ok {
			continue
		}
		symbol := ""
		if ds.PerSymbol {
			if s, ok := row["symbol"].(string); ok {
				symbol = s
			}
		}
		l.man.bumpLatest(ds.Name, symbol, d)
		if cur, ok := l.man.getLatest(ds.Name, symbol); ok {
			l.store.saveLatest(ds.Name, symbol, cur)
		}
	}
}

// groupByYear buckets rows by the calendar year of the dataset's date
// column. Datasets without a date column (reference tables) are returned
// whole under year 0.
func groupByYear(ds catalog.DatasetDescriptor, rows []model.Row) (map[int][]model.Row, error) {
	out := make(map[int][]model.Row)
	if !ds.HasDateColumn() {
		out[0] = rows
		return out, nil
	}
	for _, row := range rows {
		d, ok := row.DateValue(ds.DateColumn)
		if !ok {
			return nil, fmt.Errorf("%w: dataset %s: row missing date column %q", model.ErrSchemaMismatch, ds.Name, ds.DateColumn)
		}
		y := d.UTC().Year()
		out[y] = append(out[y], row)
	}
	return out, nil
}

func fsyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
