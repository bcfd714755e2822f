package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// store is the durable backing for all three queues: one bbolt bucket per
// queue holding pending/leased tasks, and a matching "dead:<queue>" bucket
// for anything that exhausted its retry budget. The bucket-per-entity-kind
// layout and JSON-marshaled values follow cuemby-warren's BoltStore
// (pkg/storage/boltdb.go); the lease/attempt/complete/fail state machine
// riding on top of it follows the teacher's AsyncWorker
// (internal/ingester/async_worker.go: AcquireLease/ReclaimLease/CompleteLease/FailLease),
// adapted from per-height-range leases to per-task leases.
type store struct {
	db *bolt.DB
}

func openStore(path string) (*store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open queue store %s: %w", path, err)
	}
	return &store{db: db}, nil
}

func (s *store) Close() error { return s.db.Close() }

type entryStatus string

const (
	statusPending entryStatus = "pending"
	statusLeased  entryStatus = "leased"
)

type entry struct {
	Task       Task        `json:"task"`
	Status     entryStatus `json:"status"`
	LeaseOwner string      `json:"lease_owner,omitempty"`
	LeaseUntil time.Time   `json:"lease_until,omitempty"`
}

func queueBucket(queue string) []byte { return []byte("queue:" + queue) }
func deadBucket(queue string) []byte  { return []byte("dead:" + queue) }

// Enqueue durably records t as pending work on queue, assigning it a
// monotonic ID via the bucket's own sequence counter.
func (s *store) Enqueue(queue string, t Task) (uint64, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(queueBucket(queue))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		t.ID = id
		e := entry{Task: t, Status: statusPending}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(keyFor(id), data)
	})
	return id, err
}

func keyFor(id uint64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

// LeaseNext scans queue in ID order for the first task that is pending (or
// whose previous lease has expired) and whose NotBefore has arrived, and
// marks it leased to owner until leaseUntil. Returns ok=false if nothing is
// currently eligible, mirroring AsyncWorker.attemptRange's "could not
// acquire, range is taken or not ready" case.
func (s *store) LeaseNext(queue, owner string, leaseFor time.Duration) (Task, bool, error) {
	var found Task
	ok := false
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket(queue))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Status == statusLeased && now.Before(e.LeaseUntil) {
				continue // still leased by someone else
			}
			if e.Task.NotBefore.After(now) {
				continue // backing off
			}
			e.Status = statusLeased
			e.LeaseOwner = owner
			e.LeaseUntil = now.Add(leaseFor)
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
			found = e.Task
			ok = true
			return nil
		}
		return nil
	})
	return found, ok, err
}

// Complete removes a successfully processed task from queue.
func (s *store) Complete(queue string, id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket(queue))
		if b == nil {
			return nil
		}
		return b.Delete(keyFor(id))
	})
}

// Fail records a processing failure. If the task's attempt count (now
// incremented) has reached maxAttempts, it is moved to the dead-letter
// bucket and removed from queue; otherwise it's returned to pending with
// NotBefore pushed out by an exponential backoff.
func (s *store) Fail(queue string, id uint64, maxAttempts int, baseBackoff time.Duration, reason string) (deadLettered bool, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, bErr := tx.CreateBucketIfNotExists(queueBucket(queue))
		if bErr != nil {
			return bErr
		}
		raw := b.Get(keyFor(id))
		if raw == nil {
			return nil
		}
		var e entry
		if uErr := json.Unmarshal(raw, &e); uErr != nil {
			return uErr
		}
		e.Task.Attempt++

		if e.Task.Attempt >= maxAttempts {
			deadLettered = true
			db, dErr := tx.CreateBucketIfNotExists(deadBucket(queue))
			if dErr != nil {
				return dErr
			}
			rec := deadRecord{Task: e.Task, Reason: reason, DeadAt: time.Now()}
			data, mErr := json.Marshal(rec)
			if mErr != nil {
				return mErr
			}
			if pErr := db.Put(keyFor(id), data); pErr != nil {
				return pErr
			}
			return b.Delete(keyFor(id))
		}

		e.Status = statusPending
		e.LeaseOwner = ""
		e.LeaseUntil = time.Time{}
		e.Task.NotBefore = time.Now().Add(baseBackoff * time.Duration(1<<uint(e.Task.Attempt-1)))
		data, mErr := json.Marshal(e)
		if mErr != nil {
			return mErr
		}
		return b.Put(keyFor(id), data)
	})
	return deadLettered, err
}

type deadRecord struct {
	Task   Task      `json:"task"`
	Reason string    `json:"reason"`
	DeadAt time.Time `json:"dead_at"`
}

// ListDead returns every dead-lettered task on queue, for the exit summary
// and for operator inspection.
func (s *store) ListDead(queue string) ([]deadRecord, error) {
	var out []deadRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(deadBucket(queue))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec deadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Len reports how many tasks are currently pending or leased on queue.
func (s *store) Len(queue string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket(queue))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}
