package vendorapi

import (
	"context"
	"fmt"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/model"
	"ashare-lake/internal/ratelimit"
)

// Fetcher is the parameterless thunk spec.md calls `fetcher()`: invoking it
// performs exactly one rate-limited vendor call and returns a tabular
// result matching the dataset's declared columns.
type Fetcher func(ctx context.Context) (model.Table, error)

// Factory is C4: it looks up dataset descriptors from the Schema Registry
// and binds them against a Caller and a Rate-Limit Manager. build is pure
// (no I/O); all I/O happens when the returned Fetcher is invoked, matching
// spec.md's "build is pure / fetcher() is safe to call from any worker"
// concurrency note.
type Factory struct {
	registry *catalog.Registry
	limiter  *ratelimit.Manager
	caller   Caller
}

func NewFactory(registry *catalog.Registry, limiter *ratelimit.Manager, caller Caller) *Factory {
	return &Factory{registry: registry, limiter: limiter, caller: caller}
}

// Build binds taskName and params into a Fetcher. Returns model.ErrBadParams
// if params don't satisfy the dataset's api_descriptor (unknown param, or a
// required one missing).
func (f *Factory) Build(taskName string, params map[string]string) (Fetcher, error) {
	ds, err := f.registry.Get(taskName)
	if err != nil {
		return nil, err
	}
	bound, err := ds.BindParams(params)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) (model.Table, error) {
		if err := f.limiter.Acquire(ctx, taskName); err != nil {
			return model.Table{}, err
		}
		rows, err := f.caller.Call(ctx, ds.API.Base, ds.API.Method, bound)
		if err != nil {
			return model.Table{}, err
		}
		return toTable(ds, rows)
	}, nil
}

// toTable converts the vendor's raw []map[string]any payload into a
// model.Table carrying exactly the dataset's declared columns, coerced to
// their declared types. Missing expected columns are a SchemaMismatch, as is
// a null value in a primary-key or date column (other null values are left
// unset); unexpected extra columns from the vendor are silently dropped (spec.md
// §4.4: "extra columns are kept" at the vendor-response level, but since
// the lake only ever persists declared columns, anything beyond them has
// no destination and is discarded here rather than carried dead weight
// through the rest of the pipeline).
func toTable(ds catalog.DatasetDescriptor, raw []map[string]any) (model.Table, error) {
	out := model.Table{Columns: ds.Columns, Rows: make([]model.Row, 0, len(raw))}
	for i, r := range raw {
		row := make(model.Row, len(ds.Columns))
		for _, col := range ds.Columns {
			v, present := r[col.Name]
			if !present {
				return model.Table{}, fmt.Errorf("%w: dataset %s: row %d missing column %q", model.ErrSchemaMismatch, ds.Name, i, col.Name)
			}
			if v == nil {
				if isKeyColumn(ds, col.Name) {
					return model.Table{}, fmt.Errorf("%w: dataset %s: row %d null key column %q", model.ErrSchemaMismatch, ds.Name, i, col.Name)
				}
				continue
			}
			coerced, err := coerce(col, v)
			if err != nil {
				return model.Table{}, fmt.Errorf("%w: dataset %s: row %d column %q: %v", model.ErrSchemaMismatch, ds.Name, i, col.Name, err)
			}
			row[col.Name] = coerced
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func isKeyColumn(ds catalog.DatasetDescriptor, name string) bool {
	for _, pk := range ds.PrimaryKey {
		if pk == name {
			return true
		}
	}
	return name == ds.DateColumn
}

func coerce(col model.Column, v any) (any, error) {
	switch col.Type {
	case model.ColumnString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	case model.ColumnFloat64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			return parseFloatStrict(n)
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
	case model.ColumnInt64:
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case string:
			return parseIntStrict(n)
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case model.ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case model.ColumnDate:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected date string, got %T", v)
		}
		return parseVendorDate(s)
	default:
		return v, nil
	}
}
