package lake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// manifestStore durably persists the manifest across restarts. Layout is
// bucket-per-dataset, one for partition file records and one for the
// latest-date cache, the same one-bucket-per-entity-kind shape as
// cuemby-warren's BoltStore (pkg/storage/boltdb.go) with JSON-encoded
// values instead of the orchestrator's arbitrary structs.
type manifestStore struct {
	db *bolt.DB
}

const (
	filesBucketPrefix  = "files:"
	latestBucketPrefix = "latest:"
)

func openManifestStore(path string) (*manifestStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("lake: open manifest store %s: %w", path, err)
	}
	return &manifestStore{db: db}, nil
}

func (s *manifestStore) Close() error {
	return s.db.Close()
}

type storedFile struct {
	Year int    `json:"year"`
	Seq  int64  `json:"seq"`
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// saveFile appends one partition file record for dataset, keyed by its path
// so re-saving the same file (shouldn't happen, append files are immutable)
// overwrites rather than duplicates.
func (s *manifestStore) saveFile(dataset string, f partitionFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(filesBucketPrefix + dataset))
		if err != nil {
			return err
		}
		data, err := json.Marshal(storedFile{Year: f.Year, Seq: f.Seq, Path: f.Path, Rows: f.Rows})
		if err != nil {
			return err
		}
		return b.Put([]byte(f.Path), data)
	})
}

// replaceFiles atomically swaps the entire file list recorded for dataset,
// used after a full-replace swap and after compaction.
func (s *manifestStore) replaceFiles(dataset string, fs []partitionFile) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := []byte(filesBucketPrefix + dataset)
		if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		for _, f := range fs {
			data, err := json.Marshal(storedFile{Year: f.Year, Seq: f.Seq, Path: f.Path, Rows: f.Rows})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(f.Path), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// loadAll reconstructs every dataset's file list on startup.
func (s *manifestStore) loadAll() (map[string][]partitionFile, error) {
	out := make(map[string][]partitionFile)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if !bytes.HasPrefix(name, []byte(filesBucketPrefix)) {
				return nil
			}
			dataset := strings.TrimPrefix(string(name), filesBucketPrefix)
			return b.ForEach(func(_, v []byte) error {
				var sf storedFile
				if err := json.Unmarshal(v, &sf); err != nil {
					return err
				}
				out[dataset] = append(out[dataset], partitionFile{Year: sf.Year, Seq: sf.Seq, Path: sf.Path, Rows: sf.Rows})
				return nil
			})
		})
	})
	if err != nil {
		return nil, fmt.Errorf("lake: load manifest files: %w", err)
	}
	return out, nil
}

// saveLatest persists the latest-date cache entry for dataset/symbol.
func (s *manifestStore) saveLatest(dataset, symbol string, d time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(latestBucketPrefix + dataset))
		if err != nil {
			return err
		}
		return b.Put([]byte(symbol), []byte(d.UTC().Format(time.RFC3339)))
	})
}

func (s *manifestStore) deleteLatestBucket(dataset string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(latestBucketPrefix + dataset))
		if err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		return nil
	})
}

func (s *manifestStore) loadLatest() (map[string]map[string]time.Time, error) {
	out := make(map[string]map[string]time.Time)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if !bytes.HasPrefix(name, []byte(latestBucketPrefix)) {
				return nil
			}
			dataset := strings.TrimPrefix(string(name), latestBucketPrefix)
			bySymbol := make(map[string]time.Time)
			err := b.ForEach(func(k, v []byte) error {
				t, err := time.Parse(time.RFC3339, string(v))
				if err != nil {
					return err
				}
				bySymbol[string(k)] = t
				return nil
			})
			if err != nil {
				return err
			}
			out[dataset] = bySymbol
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("lake: load manifest latest-date cache: %w", err)
	}
	return out, nil
}
