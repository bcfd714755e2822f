package lake

import (
	"sync"
	"time"
)

// partitionFile describes one physical file on disk contributing rows to a
// dataset. Year partitioning mirrors spec.md §4.3 ("one directory per
// calendar year of trade_date"); Seq disambiguates the many append files a
// single year can accumulate.
type partitionFile struct {
	Year int
	Seq  int64
	Path string
	Rows int
}

// manifest is the in-memory index the lake keeps over its own files: which
// partition files exist per dataset, and the newest trade_date observed per
// (dataset, symbol) so planners can answer "where do I resume" without
// re-scanning parquet files on every call. It is backed by manifestStore for
// durability across restarts (grounded on cuemby-warren's BoltStore, see
// manifest_store.go).
type manifest struct {
	mu     sync.RWMutex
	files  map[string][]partitionFile    // dataset -> partition files
	latest map[string]map[string]time.Time // dataset -> symbol ("" for whole-market datasets) -> latest date
}

func newManifest() *manifest {
	return &manifest{
		files:  make(map[string][]partitionFile),
		latest: make(map[string]map[string]time.Time),
	}
}

func (m *manifest) addFile(dataset string, f partitionFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[dataset] = append(m.files[dataset], f)
}

func (m *manifest) replaceFiles(dataset string, fs []partitionFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[dataset] = fs
}

func (m *manifest) listFiles(dataset string) []partitionFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]partitionFile, len(m.files[dataset]))
	copy(out, m.files[dataset])
	return out
}

// bumpLatest records that rows up to date d have now been persisted for
// dataset/symbol, if d is newer than what's already recorded.
func (m *manifest) bumpLatest(dataset, symbol string, d time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.latest[dataset]
	if !ok {
		bySymbol = make(map[string]time.Time)
		m.latest[dataset] = bySymbol
	}
	if cur, ok := bySymbol[symbol]; !ok || d.After(cur) {
		bySymbol[symbol] = d
	}
}

// setLatest unconditionally overwrites the recorded latest date. Open uses
// it to load the durable store's entries; full-replace and manifest rebuild
// clear the dataset's entries and then bump them from the rows instead.
func (m *manifest) setLatest(dataset, symbol string, d time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol, ok := m.latest[dataset]
	if !ok {
		bySymbol = make(map[string]time.Time)
		m.latest[dataset] = bySymbol
	}
	bySymbol[symbol] = d
}

func (m *manifest) getLatest(dataset, symbol string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySymbol, ok := m.latest[dataset]
	if !ok {
		return time.Time{}, false
	}
	d, ok := bySymbol[symbol]
	return d, ok
}

func (m *manifest) clearLatest(dataset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, dataset)
}
