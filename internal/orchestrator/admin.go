package orchestrator

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// ResetQueue drops every pending/leased task and dead-letter record for one
// named queue ("fast", "slow" or "maint") in the durable store at path,
// without touching the other two queues. Intended for the reset_task_queue
// operator tool (cmd/tools), the same "delete exactly one piece of durable
// state, report whether there was anything to delete" shape as the
// teacher's cmd/tools/reset_checkpoint.
func ResetQueue(queueStorePath, queue string) (cleared bool, err error) {
	db, err := bolt.Open(queueStorePath, 0o600, nil)
	if err != nil {
		return false, fmt.Errorf("orchestrator: open queue store %s: %w", queueStorePath, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{queueBucket(queue), deadBucket(queue)} {
			b := tx.Bucket(name)
			if b == nil {
				continue
			}
			if k, _ := b.Cursor().First(); k != nil {
				cleared = true
			}
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	return cleared, err
}
