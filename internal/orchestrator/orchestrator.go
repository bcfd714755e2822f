// Package orchestrator implements the Task Orchestrator (spec.md C5): three
// durably-queued, independently-staffed worker pools (FAST/SLOW/MAINT)
// driving plan/download/persist/maintenance tasks through C1-C4.
//
// The lease/attempt/complete/fail state machine each worker loop runs is
// adapted from the teacher's AsyncWorker (internal/ingester/async_worker.go):
// a ticker-driven poll loop that leases the next eligible unit of work from
// a durable store, processes it, and marks it complete or failed. FAST's
// bounded fan-out uses golang.org/x/sync/errgroup the way the teacher uses
// a worker-count config knob elsewhere (internal/ingester/service.go's
// fetchBatchParallel), just with errgroup's cleaner error propagation in
// place of a manual WaitGroup + semaphore channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/lake"
	"ashare-lake/internal/model"
	"ashare-lake/internal/vendorapi"
)

// Config drives New; zero-value fields fall back to sane defaults.
type Config struct {
	QueueStorePath        string
	FastWorkers           int // default 8, per spec.md's FAST row
	LeaseFor              time.Duration
	MaxAttempts           int
	BaseBackoff           time.Duration
	MaintInterval         time.Duration // how often MAINT self-schedules rebuild/compact sweeps
	SymbolUniverseDataset string        // e.g. "stock_basic"
	SymbolOverride        []string      // static symbol list, bypasses SymbolUniverseDataset; mainly for tests
	BackfillStart         time.Time     // earliest date planned for a dataset with no partitions yet
}

func (c Config) withDefaults() Config {
	if c.FastWorkers <= 0 {
		c.FastWorkers = 8
	}
	if c.LeaseFor <= 0 {
		c.LeaseFor = 2 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaintInterval <= 0 {
		c.MaintInterval = time.Hour
	}
	if c.BackfillStart.IsZero() {
		c.BackfillStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return c
}

// Orchestrator wires the Schema Registry, Persistence Layer and Fetcher
// Factory together behind three durable queues.
type Orchestrator struct {
	registry *catalog.Registry
	lake     *lake.Lake
	factory  *vendorapi.Factory
	store    *store

	fastWorkers           int
	leaseFor              time.Duration
	maxAttempts           int
	baseBackoff           time.Duration
	maintInterval         time.Duration
	symbolUniverseDataset string
	symbolOverride        []string
	backfillStart         time.Time

	ownerID string

	cancel context.CancelFunc
	g      *errgroup.Group
}

// New opens the durable queue store at cfg.QueueStorePath and builds an
// Orchestrator ready to Start.
func New(cfg Config, registry *catalog.Registry, lk *lake.Lake, factory *vendorapi.Factory) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	st, err := openStore(cfg.QueueStorePath)
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	return &Orchestrator{
		registry:              registry,
		lake:                  lk,
		factory:               factory,
		store:                 st,
		fastWorkers:           cfg.FastWorkers,
		leaseFor:              cfg.LeaseFor,
		maxAttempts:           cfg.MaxAttempts,
		baseBackoff:           cfg.BaseBackoff,
		maintInterval:         cfg.MaintInterval,
		symbolUniverseDataset: cfg.SymbolUniverseDataset,
		symbolOverride:        cfg.SymbolOverride,
		backfillStart:         cfg.BackfillStart,
		ownerID:               fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}, nil
}

// Start launches every worker pool's poll loop. It returns immediately;
// workers run until ctx is done or Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	o.g = g

	for i := 0; i < o.fastWorkers; i++ {
		workerNum := i
		g.Go(func() error {
			o.pollLoop(gctx, queueName(KindDownload), 200*time.Millisecond, o.runDownload)
			log.Printf("[orchestrator] fast worker %d stopped", workerNum)
			return nil
		})
	}
	g.Go(func() error {
		o.pollLoop(gctx, "slow", 250*time.Millisecond, o.dispatchSlow)
		log.Printf("[orchestrator] slow worker stopped")
		return nil
	})
	g.Go(func() error {
		o.pollLoop(gctx, queueName(KindMaintenance), 500*time.Millisecond, o.runMaintenance)
		log.Printf("[orchestrator] maint worker stopped")
		return nil
	})
	g.Go(func() error {
		o.maintScheduler(gctx)
		return nil
	})
}

// dispatchSlow handles both task kinds admitted onto SLOW (plan and
// persist), since they share a single-worker queue by design (spec.md:
// "planning and persistence for the same dataset never interleave").
func (o *Orchestrator) dispatchSlow(ctx context.Context, t Task) error {
	switch t.Kind {
	case KindPlan:
		return o.runPlan(ctx, t)
	default:
		return o.runPersist(ctx, t)
	}
}

// pollLoop is the generic lease/process/complete-or-fail cycle shared by
// every queue, grounded on the teacher's AsyncWorker.runLoop ticker pattern.
func (o *Orchestrator) pollLoop(ctx context.Context, queue string, interval time.Duration, handle func(context.Context, Task) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tryOne(ctx, queue, handle)
		}
	}
}

func (o *Orchestrator) tryOne(ctx context.Context, queue string, handle func(context.Context, Task) error) {
	t, ok, err := o.store.LeaseNext(queue, o.ownerID, o.leaseFor)
	if err != nil {
		log.Printf("[orchestrator] %s: lease next: %v", queue, err)
		return
	}
	if !ok {
		return
	}

	err = handle(ctx, t)
	if err == nil || errors.Is(err, model.ErrCancelled) {
		// A cancelled task ends as a succeeded no-op rather than a retry.
		if cErr := o.store.Complete(queue, t.ID); cErr != nil {
			log.Printf("[orchestrator] %s: complete task %d: %v", queue, t.ID, cErr)
		}
		return
	}

	log.Printf("[orchestrator] %s: task %d (%s/%s) failed: %v", queue, t.ID, t.Kind, t.TaskName, err)
	maxAttempts := o.maxAttempts
	if model.Permanent(err) {
		maxAttempts = 1 // dead-letter on the first failure, no retry
	}
	dead, fErr := o.store.Fail(queue, t.ID, maxAttempts, o.baseBackoff, err.Error())
	if fErr != nil {
		log.Printf("[orchestrator] %s: record failure for task %d: %v", queue, t.ID, fErr)
		return
	}
	if dead {
		log.Printf("[orchestrator] %s: task %d (%s/%s) dead-lettered after %d attempts", queue, t.ID, t.Kind, t.TaskName, t.Attempt+1)
	}
}

// maintScheduler periodically enqueues rebuild_manifest and compact
// maintenance tasks for every dataset in the catalogue, so housekeeping
// runs without an operator remembering to submit it (spec.md's supplemented
// "MAINT tasks... periodically self-scheduling", see SPEC_FULL.md §3.6).
func (o *Orchestrator) maintScheduler(ctx context.Context) {
	ticker := time.NewTicker(o.maintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range o.registry.Names() {
				if err := o.SubmitMaintenance(name, MaintCompact); err != nil {
					log.Printf("[orchestrator] maint scheduler: compact %s: %v", name, err)
				}
				if err := o.SubmitMaintenance(name, MaintRebuildManifest); err != nil {
					log.Printf("[orchestrator] maint scheduler: rebuild_manifest %s: %v", name, err)
				}
			}
		}
	}
}

// SubmitPlan enqueues a plan(group) task onto SLOW. correlationID ties the
// resulting cascade of download/persist tasks together for observability.
func (o *Orchestrator) SubmitPlan(group, correlationID string) (uint64, error) {
	return o.store.Enqueue(queueName(KindPlan), Task{
		Kind:          KindPlan,
		Group:         group,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	})
}

// SubmitMaintenance enqueues a maintenance task for a single dataset onto
// MAINT.
func (o *Orchestrator) SubmitMaintenance(taskName string, op MaintOp) error {
	_, err := o.store.Enqueue(queueName(KindMaintenance), Task{
		Kind:      KindMaintenance,
		TaskName:  taskName,
		MaintOp:   op,
		CreatedAt: time.Now(),
	})
	return err
}

// Cancel removes a not-yet-processed task from its queue. Returns nil
// whether or not the task was still present (it may have already completed
// or been dead-lettered), matching the teacher's tools' idempotent-by-design
// cleanup operations.
func (o *Orchestrator) Cancel(kind Kind, id uint64) error {
	return o.store.Complete(queueName(kind), id)
}

// Summary reports queue depths and dead-letter counts at shutdown.
type Summary struct {
	FastPending int
	SlowPending int
	MaintPending int
	DeadLetters  map[string]int
}

// Shutdown stops every worker pool, waits for in-flight tasks to finish
// their current cycle, and returns a final Summary.
func (o *Orchestrator) Shutdown(ctx context.Context) Summary {
	if o.cancel != nil {
		o.cancel()
	}
	done := make(chan struct{})
	go func() {
		if o.g != nil {
			o.g.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("[orchestrator] shutdown: timed out waiting for workers")
	}

	summary := Summary{DeadLetters: make(map[string]int)}
	summary.FastPending, _ = o.store.Len(queueName(KindDownload))
	summary.SlowPending, _ = o.store.Len("slow")
	summary.MaintPending, _ = o.store.Len(queueName(KindMaintenance))
	for _, q := range []string{queueName(KindDownload), "slow", queueName(KindMaintenance)} {
		dead, err := o.store.ListDead(q)
		if err != nil {
			log.Printf("[orchestrator] shutdown: list dead %s: %v", q, err)
			continue
		}
		summary.DeadLetters[q] = len(dead)
	}

	if err := o.store.Close(); err != nil {
		log.Printf("[orchestrator] shutdown: close store: %v", err)
	}
	return summary
}
