package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/lake"
)

// resolveSymbols returns the symbol universe a per_symbol dataset's plan
// task should fan out over. A static override (config-supplied, used in
// tests and for bootstrapping before any reference dataset has been
// populated) takes priority; otherwise the universe is read off a
// reference dataset already sitting in the lake (conventionally
// "stock_basic", spec.md's full-replace symbol listing).
func (o *Orchestrator) resolveSymbols(ctx context.Context, ds catalog.DatasetDescriptor) ([]string, error) {
	if len(o.symbolOverride) > 0 {
		return o.symbolOverride, nil
	}
	if o.symbolUniverseDataset == "" {
		return nil, fmt.Errorf("orchestrator: dataset %s is per_symbol but no symbol universe is configured", ds.Name)
	}
	uds, err := o.registry.Get(o.symbolUniverseDataset)
	if err != nil {
		return nil, err
	}
	symbols, err := o.lake.Symbols(ctx, uds)
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

// planRange computes the still-missing [start,end] window for one
// (dataset, symbol) pair: the day after the newest date already persisted,
// through today. An empty dataset (ErrNoPartitions) plans from the
// orchestrator's configured backfill start.
func (o *Orchestrator) planRange(ctx context.Context, ds catalog.DatasetDescriptor, symbol string) (start, end time.Time, skip bool, err error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	latest, lerr := o.lake.LatestDate(ctx, ds.Name, symbol)
	switch {
	case lerr == nil:
		start = latest.AddDate(0, 0, 1)
	case lerr == lake.ErrNoPartitions:
		start = o.backfillStart
	default:
		return time.Time{}, time.Time{}, false, lerr
	}

	if !start.Before(today) && !start.Equal(today) {
		return time.Time{}, time.Time{}, true, nil
	}
	return start, today, false, nil
}

// runPlan expands a plan(group) task into one download task per unit of
// work, per spec.md §4.5. Per-(task_name, symbol) errors are logged and do
// not abort the rest of the plan.
func (o *Orchestrator) runPlan(ctx context.Context, t Task) error {
	taskNames, err := o.registry.ListGroup(t.Group)
	if err != nil {
		return err
	}

	for _, taskName := range taskNames {
		ds, err := o.registry.Get(taskName)
		if err != nil {
			log.Printf("[orchestrator] plan %s: %v", taskName, err)
			continue
		}

		if !ds.PerSymbol {
			if err := o.enqueueDownload(taskName, nil, t.CorrelationID); err != nil {
				log.Printf("[orchestrator] plan %s: enqueue download: %v", taskName, err)
			}
			continue
		}

		symbols, err := o.resolveSymbols(ctx, ds)
		if err != nil {
			log.Printf("[orchestrator] plan %s: resolve symbols: %v", taskName, err)
			continue
		}
		for _, symbol := range symbols {
			start, end, skip, err := o.planRange(ctx, ds, symbol)
			if err != nil {
				log.Printf("[orchestrator] plan %s/%s: %v", taskName, symbol, err)
				continue
			}
			if skip {
				continue
			}
			params := map[string]string{
				"symbol": symbol,
				"start":  start.Format("2006-01-02"),
				"end":    end.Format("2006-01-02"),
			}
			if err := o.enqueueDownload(taskName, params, t.CorrelationID); err != nil {
				log.Printf("[orchestrator] plan %s/%s: enqueue download: %v", taskName, symbol, err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) enqueueDownload(taskName string, params map[string]string, correlationID string) error {
	_, err := o.store.Enqueue(queueName(KindDownload), Task{
		Kind:          KindDownload,
		TaskName:      taskName,
		Params:        params,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	})
	return err
}
