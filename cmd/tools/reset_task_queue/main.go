// reset_task_queue drops all pending, leased and dead-lettered work from
// one named queue in the durable store, for when a queue has wedged itself
// (e.g. a dataset renamed in the catalogue leaves orphaned tasks behind)
// and the operator would rather start that queue clean than hand-edit the
// store. Adapted from the teacher's cmd/tools/reset_checkpoint, which does
// the equivalent "delete exactly one piece of durable state" against
// Postgres rather than bbolt.
package main

import (
	"fmt"
	"log"
	"os"

	"ashare-lake/internal/orchestrator"
)

func main() {
	storePath := os.Getenv("QUEUE_STORE_PATH")
	if storePath == "" {
		storePath = "./var/data/queue.db"
	}
	if len(os.Args) < 2 {
		log.Fatalf("usage: reset_task_queue <fast|slow|maint>")
	}
	queue := os.Args[1]
	switch queue {
	case "fast", "slow", "maint":
	default:
		log.Fatalf("unknown queue %q (want fast, slow or maint)", queue)
	}

	cleared, err := orchestrator.ResetQueue(storePath, queue)
	if err != nil {
		log.Fatalf("Failed to reset queue %q: %v", queue, err)
	}
	if !cleared {
		fmt.Printf("Queue %q was already empty.\n", queue)
		return
	}
	fmt.Printf("Queue %q reset. Pending, leased and dead-lettered tasks were dropped.\n", queue)
}
