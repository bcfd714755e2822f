// Package model holds the tabular data types and error vocabulary shared by
// the catalog, rate-limit, lake, vendorapi and orchestrator packages. Keeping
// these in one leaf package avoids import cycles between the components that
// all need to talk about "a row set with a column schema".
package model

import "time"

// ColumnType is the set of physical column types the lake can persist.
// Kept intentionally small: the vendor API never returns anything richer
// than these for A-share tabular datasets.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnInt64
	ColumnFloat64
	ColumnBool
	ColumnDate // calendar date, stored as days since epoch
)

func (t ColumnType) String() string {
	switch t {
	case ColumnString:
		return "string"
	case ColumnInt64:
		return "int64"
	case ColumnFloat64:
		return "float64"
	case ColumnBool:
		return "bool"
	case ColumnDate:
		return "date"
	default:
		return "unknown"
	}
}

// Column describes one field of a dataset's row shape.
type Column struct {
	Name string
	Type ColumnType
}

// Row is one record, keyed by column name. Using a map rather than a
// generated struct per dataset is what makes the fetcher/persistence layer
// metadata-driven: adding a dataset never requires a new Go type.
type Row map[string]any

// Table is the payload carried from a download task to its paired persist
// task: a declared column schema plus the row set it describes. Table is
// copied by value through the queue (spec.md Data Model: "payload ... carried
// by value through the queue").
type Table struct {
	Columns []Column
	Rows    []Row
}

// ColumnNames returns the table's column names in declared order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether name is one of the table's declared columns.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Empty reports whether the table carries zero rows. An empty table is still
// a valid payload: spec.md requires that empty downloads are persisted as a
// no-op so the correlation between download and persist stays observable.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// DateValue reads column `col` from row r as a time.Time truncated to the
// day. It supports the handful of shapes a vendor payload or parquet reader
// round-trip can produce: time.Time, a date string (2006-01-02), or an int64
// day count.
func (r Row) DateValue(col string) (time.Time, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Truncate(24 * time.Hour), true
	case string:
		parsed, err := time.Parse("2006-01-02", t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case int64:
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(t)), true
	case int32:
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(t)), true
	case int:
		return time.Unix(0, 0).UTC().AddDate(0, 0, t), true
	default:
		return time.Time{}, false
	}
}
