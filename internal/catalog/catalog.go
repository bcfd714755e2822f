// Package catalog implements the Schema Registry (spec.md C1): a read-only,
// load-once-at-startup index of dataset descriptors, parsed from a
// declarative TOML catalogue file.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"ashare-lake/internal/model"
)

// UpdateStrategy is the dataset's persistence strategy (spec.md Data Model).
type UpdateStrategy string

const (
	StrategyIncremental UpdateStrategy = "incremental"
	StrategyFullReplace UpdateStrategy = "full_replace"
)

// APIDescriptor names the vendor method and the parameters the planner is
// allowed to bind onto it.
type APIDescriptor struct {
	Method   string            `toml:"method"`
	Base     string            `toml:"base"`
	Required []string          `toml:"required"`
	Optional []string          `toml:"optional"`
	Defaults map[string]string `toml:"defaults"`
}

// allowedParams is the union of required, optional and default-bearing
// params; build(task_name, params) rejects anything outside this set.
func (a APIDescriptor) allowedParams() map[string]struct{} {
	allowed := make(map[string]struct{}, len(a.Required)+len(a.Optional)+len(a.Defaults))
	for _, p := range a.Required {
		allowed[p] = struct{}{}
	}
	for _, p := range a.Optional {
		allowed[p] = struct{}{}
	}
	for p := range a.Defaults {
		allowed[p] = struct{}{}
	}
	return allowed
}

// DatasetDescriptor is one row of the schema catalogue (spec.md §3, §6).
type DatasetDescriptor struct {
	Name         string         `toml:"name"`
	PrimaryKey   []string       `toml:"primary_key"`
	DateColumn   string         `toml:"date_column"`
	Columns      []model.Column `toml:"-"` // populated from ColumnSpecs after parse
	ColumnSpecs  []ColumnSpec   `toml:"columns"`
	API          APIDescriptor  `toml:"api"`
	Strategy     UpdateStrategy `toml:"strategy"`
	PerSymbol    bool           `toml:"per_symbol"`
}

// ColumnSpec is the TOML-friendly column declaration; Type is a string tag
// mapped onto model.ColumnType during validation.
type ColumnSpec struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// HasDateColumn reports whether this dataset is incrementally plannable by
// date (spec.md: date_column is "absent for reference tables").
func (d DatasetDescriptor) HasDateColumn() bool {
	return d.DateColumn != ""
}

// Group is a named set of datasets submitted together as one plan.
type Group struct {
	Name  string   `toml:"name"`
	Tasks []string `toml:"tasks"`
}

// file is the top-level shape of the catalogue TOML document.
type file struct {
	Dataset []DatasetDescriptor `toml:"dataset"`
	Group   []Group             `toml:"group"`
}

// Registry is the read-only, in-memory Schema Registry. Safe for concurrent
// reads from any number of goroutines after Load returns; it is never
// mutated again (spec.md: "read-only after startup; any mutation would
// require a process restart").
type Registry struct {
	mu       sync.RWMutex // guards nothing but documents the read-only contract at a glance
	datasets map[string]DatasetDescriptor
	groups   map[string]Group
	order    []string
}

// Load parses a catalogue file from disk and validates it into a Registry.
// Unknown fields in any [[dataset]] or [[group]] table are a startup error
// (go-toml/v2's strict decoder), matching the design note "Dynamic-attribute
// configuration → enumerated descriptor".
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Registry from raw TOML bytes. Exported separately from Load
// so tests can exercise it without touching the filesystem.
func Parse(data []byte) (*Registry, error) {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	reg := &Registry{
		datasets: make(map[string]DatasetDescriptor, len(f.Dataset)),
		groups:   make(map[string]Group, len(f.Group)),
	}

	for _, d := range f.Dataset {
		if d.Name == "" {
			return nil, fmt.Errorf("catalog: dataset entry missing name")
		}
		if _, dup := reg.datasets[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate dataset name %q", d.Name)
		}
		if len(d.PrimaryKey) == 0 {
			return nil, fmt.Errorf("catalog: dataset %q: primary_key must have at least one column", d.Name)
		}
		switch d.Strategy {
		case StrategyIncremental, StrategyFullReplace:
		default:
			return nil, fmt.Errorf("catalog: dataset %q: unknown strategy %q", d.Name, d.Strategy)
		}
		cols := make([]model.Column, 0, len(d.ColumnSpecs))
		for _, cs := range d.ColumnSpecs {
			ct, err := parseColumnType(cs.Type)
			if err != nil {
				return nil, fmt.Errorf("catalog: dataset %q: column %q: %w", d.Name, cs.Name, err)
			}
			cols = append(cols, model.Column{Name: cs.Name, Type: ct})
		}
		d.Columns = cols
		reg.datasets[d.Name] = d
		reg.order = append(reg.order, d.Name)
	}

	for _, g := range f.Group {
		if g.Name == "" {
			return nil, fmt.Errorf("catalog: group entry missing name")
		}
		reg.groups[g.Name] = g
	}

	// Invariant: for every task name referenced by any group, get(task_name)
	// must succeed.
	for _, g := range f.Group {
		for _, t := range g.Tasks {
			if _, ok := reg.datasets[t]; !ok {
				return nil, fmt.Errorf("catalog: group %q references unknown task %q", g.Name, t)
			}
		}
	}

	sort.Strings(reg.order)
	return reg, nil
}

func parseColumnType(s string) (model.ColumnType, error) {
	switch s {
	case "string":
		return model.ColumnString, nil
	case "int64":
		return model.ColumnInt64, nil
	case "float64":
		return model.ColumnFloat64, nil
	case "bool":
		return model.ColumnBool, nil
	case "date":
		return model.ColumnDate, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

// Get looks up a dataset descriptor by name. Fails with model.ErrUnknownTask
// if absent, per spec.md §4.1.
func (r *Registry) Get(taskName string) (DatasetDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.datasets[taskName]
	if !ok {
		return DatasetDescriptor{}, fmt.Errorf("%w: %s", model.ErrUnknownTask, taskName)
	}
	return d, nil
}

// ListGroup resolves a task-group alias into its member dataset names.
func (r *Registry) ListGroup(groupName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupName]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", model.ErrUnknownTask, groupName)
	}
	out := make([]string, len(g.Tasks))
	copy(out, g.Tasks)
	return out, nil
}

// Names returns every dataset name known to the registry, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// BindParams validates that params supplied by the planner are a legal
// binding onto the dataset's api_descriptor: every required param present,
// nothing outside the declared required/optional/default set. Returns the
// fully merged param set (defaults filled in) ready for the vendor call.
func (d DatasetDescriptor) BindParams(params map[string]string) (map[string]string, error) {
	allowed := d.API.allowedParams()
	for k := range params {
		if _, ok := allowed[k]; !ok {
			return nil, fmt.Errorf("%w: dataset %s: unknown param %q", model.ErrBadParams, d.Name, k)
		}
	}
	bound := make(map[string]string, len(allowed))
	for k, v := range d.API.Defaults {
		bound[k] = v
	}
	for k, v := range params {
		bound[k] = v
	}
	for _, req := range d.API.Required {
		if _, ok := bound[req]; !ok {
			return nil, fmt.Errorf("%w: dataset %s: missing required param %q", model.ErrBadParams, d.Name, req)
		}
	}
	return bound, nil
}
