package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// dateWireLayout is the wire-format layout for ColumnDate values carried
// through EncodeRows/DecodeRows. Kept distinct from any vendor date layout:
// this is purely an internal queue-payload format, never parsed from or
// shown to a vendor response.
const dateWireLayout = "2006-01-02"

// EncodeRows renders rows into a schema-aware JSON payload for carrying a
// fetched table from a download task to its paired persist task across the
// queue. Plain json.Marshal of a []Row is lossy for exactly the two types
// the lake cares about (a time.Time becomes an RFC3339 string, an int64
// becomes a float64 on the way back), so each value is converted against
// its declared column type rather than left to encoding/json's generic
// interpretation of map[string]any.
func EncodeRows(cols []Column, rows []Row) ([]byte, error) {
	wire := make([]map[string]any, len(rows))
	for i, row := range rows {
		w := make(map[string]any, len(cols))
		for _, c := range cols {
			v, present := row[c.Name]
			if !present || v == nil {
				continue
			}
			enc, err := encodeWireValue(c, v)
			if err != nil {
				return nil, fmt.Errorf("model: encode row %d column %q: %w", i, c.Name, err)
			}
			w[c.Name] = enc
		}
		wire[i] = w
	}
	return json.Marshal(wire)
}

// DecodeRows is the mirror of EncodeRows: it rebuilds typed rows from a
// payload produced by EncodeRows, using the same column schema.
func DecodeRows(cols []Column, data []byte) ([]Row, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var wire []map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("model: decode payload: %w", err)
	}
	rows := make([]Row, len(wire))
	for i, w := range wire {
		row := make(Row, len(cols))
		for _, c := range cols {
			raw, present := w[c.Name]
			if !present || string(raw) == "null" {
				continue
			}
			v, err := decodeWireValue(c, raw)
			if err != nil {
				return nil, fmt.Errorf("model: decode row %d column %q: %w", i, c.Name, err)
			}
			row[c.Name] = v
		}
		rows[i] = row
	}
	return rows, nil
}

// encodeWireValue converts a typed column value into a JSON-safe form that
// decodeWireValue can invert exactly. Int64 is carried as a decimal string
// rather than a JSON number so large values survive the float64 round trip
// every JSON number otherwise takes; dates are carried as plain calendar
// strings (Row.DateValue's own layout) rather than RFC3339.
func encodeWireValue(c Column, v any) (any, error) {
	switch c.Type {
	case ColumnString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case ColumnInt64:
		switch n := v.(type) {
		case int64:
			return strconv.FormatInt(n, 10), nil
		case int:
			return strconv.Itoa(n), nil
		default:
			return nil, fmt.Errorf("expected int64, got %T", v)
		}
	case ColumnFloat64:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected float64, got %T", v)
		}
		return f, nil
	case ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case ColumnDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time.Time, got %T", v)
		}
		return t.UTC().Format(dateWireLayout), nil
	default:
		return v, nil
	}
}

func decodeWireValue(c Column, raw json.RawMessage) (any, error) {
	switch c.Type {
	case ColumnString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case ColumnInt64:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return strconv.ParseInt(s, 10, 64)
	case ColumnFloat64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	case ColumnBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case ColumnDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return time.Parse(dateWireLayout, s)
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
