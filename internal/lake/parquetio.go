package lake

import (
	"fmt"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"ashare-lake/internal/catalog"
	"ashare-lake/internal/model"
)

// parquetWriteConcurrency controls the number of goroutines parquet-go uses
// internally to build row groups. Our files are small per-partition (one
// file per append, or one per compacted year), so a modest fan-out is
// plenty; it mirrors the teacher's own preference for small, bounded worker
// counts over unbounded parallelism.
const parquetWriteConcurrency = 2

// columnMD builds the parquet-go "md" tag slice (the library's own
// declarative per-column type syntax) from a dataset's column list. Kept
// isolated in this file so every other part of the lake package only ever
// deals with ashare-lake's own model.Row / model.Table types, never with
// parquet-go's schema DSL directly.
func columnMD(cols []model.Column) []string {
	md := make([]string, len(cols))
	for i, c := range cols {
		switch c.Type {
		case model.ColumnString:
			md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8", c.Name)
		case model.ColumnInt64:
			md[i] = fmt.Sprintf("name=%s, type=INT64", c.Name)
		case model.ColumnFloat64:
			md[i] = fmt.Sprintf("name=%s, type=DOUBLE", c.Name)
		case model.ColumnBool:
			md[i] = fmt.Sprintf("name=%s, type=BOOLEAN", c.Name)
		case model.ColumnDate:
			md[i] = fmt.Sprintf("name=%s, type=INT32, convertedtype=DATE", c.Name)
		default:
			md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8", c.Name)
		}
	}
	return md
}

// writeParquetFile writes rows to a brand-new file at path using the
// dataset's column schema. Caller is responsible for the temp-then-rename
// publication discipline (§4.3); this function only ever creates path, it
// never overwrites.
func writeParquetFile(path string, cols []model.Column, rows []model.Row) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("lake: open %s for write: %w", path, err)
	}
	md := columnMD(cols)
	pw, err := writer.NewCSVWriter(md, fw, parquetWriteConcurrency)
	if err != nil {
		fw.Close()
		return fmt.Errorf("lake: new parquet writer for %s: %w", path, err)
	}

	for _, row := range rows {
		rec, err := rowToRecord(cols, row)
		if err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("lake: encode row for %s: %w", path, err)
		}
		if err := pw.WriteString(rec); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("lake: write row to %s: %w", path, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("lake: finalize %s: %w", path, err)
	}
	return fw.Close()
}

// readParquetFile reads every row of an existing partition file back into
// model.Row form, used by manifest rebuild and by compaction.
//
// There is no CSV-shaped counterpart to writer.NewCSVWriter on the read
// side of xitongsys/parquet-go: reading back data that was never declared
// against a Go struct uses reader.NewParquetReader with a nil obj, which
// loads the schema straight from the file's own footer, and ReadByNumber,
// which then hands back each row as a map[string]interface{} keyed by
// column name with values already in their native Parquet-to-Go physical
// types (no further string parsing needed, unlike the write side).
func readParquetFile(path string, cols []model.Column) ([]model.Row, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("lake: open %s for read: %w", path, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, parquetWriteConcurrency)
	if err != nil {
		return nil, fmt.Errorf("lake: new parquet reader for %s: %w", path, err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	if num == 0 {
		return nil, nil
	}
	recs, err := pr.ReadByNumber(num)
	if err != nil {
		return nil, fmt.Errorf("lake: read rows from %s: %w", path, err)
	}

	rows := make([]model.Row, 0, num)
	for _, rec := range recs {
		fields, ok := rec.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("lake: unexpected row shape reading %s", path)
		}
		row, err := mapToRow(cols, fields)
		if err != nil {
			return nil, fmt.Errorf("lake: decode row from %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rowToRecord renders one model.Row into the []*string representation the
// CSV-style writer expects, in declared column order. A nil entry encodes
// SQL-NULL.
func rowToRecord(cols []model.Column, row model.Row) ([]*string, error) {
	rec := make([]*string, len(cols))
	for i, c := range cols {
		v, present := row[c.Name]
		if !present || v == nil {
			continue
		}
		s, err := stringifyValue(c, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		rec[i] = &s
	}
	return rec, nil
}

func stringifyValue(c model.Column, v any) (string, error) {
	switch c.Type {
	case model.ColumnString:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case model.ColumnInt64:
		switch n := v.(type) {
		case int64:
			return strconv.FormatInt(n, 10), nil
		case int:
			return strconv.Itoa(n), nil
		default:
			return "", fmt.Errorf("expected int64, got %T", v)
		}
	case model.ColumnFloat64:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		case float32:
			return strconv.FormatFloat(float64(n), 'f', -1, 32), nil
		default:
			return "", fmt.Errorf("expected float64, got %T", v)
		}
	case model.ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", v)
		}
		return strconv.FormatBool(b), nil
	case model.ColumnDate:
		t, ok := v.(time.Time)
		if !ok {
			return "", fmt.Errorf("expected time.Time, got %T", v)
		}
		days := int(t.UTC().Truncate(24 * time.Hour).Sub(epoch).Hours() / 24)
		return strconv.Itoa(days), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

var epoch = time.Unix(0, 0).UTC()

// mapToRow is the mirror of rowToRecord: converts the native-typed fields
// ReadByNumber hands back (keyed by column name) into a model.Row.
func mapToRow(cols []model.Column, fields map[string]interface{}) (model.Row, error) {
	row := make(model.Row, len(cols))
	for _, c := range cols {
		v, present := fields[c.Name]
		if !present || v == nil {
			continue
		}
		val, err := nativeValue(c, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		row[c.Name] = val
	}
	return row, nil
}

// nativeValue converts one field of a ReadByNumber row into the Go type
// model.Column declares. INT64/INT32 may come back as either width
// depending on the library's internal buffering, so both are accepted.
func nativeValue(c model.Column, v interface{}) (any, error) {
	switch c.Type {
	case model.ColumnString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case model.ColumnInt64:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		case int:
			return int64(n), nil
		default:
			return nil, fmt.Errorf("expected int64, got %T", v)
		}
	case model.ColumnFloat64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("expected float64, got %T", v)
		}
	case model.ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case model.ColumnDate:
		switch n := v.(type) {
		case int32:
			return epoch.AddDate(0, 0, int(n)), nil
		case int64:
			return epoch.AddDate(0, 0, int(n)), nil
		default:
			return nil, fmt.Errorf("expected date (days since epoch), got %T", v)
		}
	default:
		return v, nil
	}
}

// descriptorColumns is a tiny adapter so callers can pass a
// catalog.DatasetDescriptor directly without the lake package importing
// catalog's column representation twice.
func descriptorColumns(d catalog.DatasetDescriptor) []model.Column {
	return d.Columns
}
