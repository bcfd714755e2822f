package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/model"
)

// runDownload builds a fetcher via C4, invokes it, and enqueues a paired
// persist task carrying the fetched payload onto SLOW with the same
// correlation_id. An empty result is still persisted as a no-op payload so
// the correlation stays observable end-to-end (spec.md §4.5).
func (o *Orchestrator) runDownload(ctx context.Context, t Task) error {
	fetcher, err := o.factory.Build(t.TaskName, t.Params)
	if err != nil {
		return err
	}
	table, err := fetcher(ctx)
	if err != nil {
		return err
	}

	payload, err := model.EncodeRows(table.Columns, table.Rows)
	if err != nil {
		return fmt.Errorf("orchestrator: encode payload for %s: %w", t.TaskName, err)
	}

	_, err = o.store.Enqueue(queueName(KindPersist), Task{
		Kind:          KindPersist,
		TaskName:      t.TaskName,
		Params:        t.Params,
		Payload:       payload,
		CorrelationID: t.CorrelationID,
		CreatedAt:     time.Now(),
	})
	return err
}

// runPersist dispatches a fetched table onto the lake's append or replace
// path according to the dataset's configured update_strategy.
func (o *Orchestrator) runPersist(ctx context.Context, t Task) error {
	ds, err := o.registry.Get(t.TaskName)
	if err != nil {
		return err
	}

	rows, err := model.DecodeRows(ds.Columns, t.Payload)
	if err != nil {
		return fmt.Errorf("%w: dataset %s: undecodable payload: %v", model.ErrSchemaMismatch, t.TaskName, err)
	}
	table := model.Table{Columns: ds.Columns, Rows: rows}
	if table.Empty() {
		return nil // empty download: no-op persist, for either strategy
	}

	switch ds.Strategy {
	case catalog.StrategyFullReplace:
		return o.lake.Replace(ctx, ds, table)
	default:
		return o.lake.Append(ctx, ds, table)
	}
}

// runMaintenance dispatches a MAINT task onto the lake's housekeeping
// operations: manifest rebuild or year-partition compaction.
func (o *Orchestrator) runMaintenance(ctx context.Context, t Task) error {
	ds, err := o.registry.Get(t.TaskName)
	if err != nil {
		return err
	}
	switch t.MaintOp {
	case MaintRebuildManifest:
		return o.lake.RebuildManifest(ctx, ds)
	case MaintCompact:
		return o.lake.Compact(ctx, ds)
	default:
		log.Printf("[orchestrator] maintenance: unknown op %q for %s, skipping", t.MaintOp, t.TaskName)
		return nil
	}
}
