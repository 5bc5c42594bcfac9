package websqlite3

import (
	"database/sql"
	"fmt"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
)

// Value is a single column value read back from the driver. SQLite is
// dynamically typed at the storage layer, so results are exposed as a
// closed tagged variant rather than an interface{} grab-bag.
type Value struct {
	Kind ValueKind
	Int  int64
	Float float64
	Text string
	Blob []byte
}

func valueFromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindNull}
	case int64:
		return Value{Kind: KindInt, Int: t}
	case float64:
		return Value{Kind: KindFloat, Float: t}
	case string:
		return Value{Kind: KindText, Text: t}
	case []byte:
		return Value{Kind: KindBlob, Blob: t}
	case bool:
		if t {
			return Value{Kind: KindInt, Int: 1}
		}
		return Value{Kind: KindInt, Int: 0}
	default:
		return Value{Kind: KindText, Text: fmt.Sprintf("%v", t)}
	}
}

// Column is one named value within a Row, in driver column order.
type Column struct {
	Name  string
	Value Value
}

// Row is an ordered column-name/value sequence for one result row. If the
// driver reports duplicate column names, the last occurrence wins — the
// same documented behavior as the mapping-based source this was ported
// from.
type Row struct {
	Columns []Column
}

// Get returns the value for a column name, and whether it was found.
func (r Row) Get(name string) (Value, bool) {
	var found Value
	ok := false
	for _, c := range r.Columns {
		if c.Name == name {
			found = c.Value
			ok = true
		}
	}
	return found, ok
}

func rowsFromSQL(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading column names: %w", err)
	}

	var out []Row
	scanDest := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range scanDest {
		scanArgs[i] = &scanDest[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := Row{Columns: make([]Column, len(cols))}
		for i, name := range cols {
			row.Columns[i] = Column{Name: name, Value: valueFromAny(scanDest[i])}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// firstRowFromSQL reads at most one row off an open *sql.Rows cursor,
// draining and closing it regardless of outcome.
func firstRowFromSQL(rows *sql.Rows) (Row, bool, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Row{}, false, fmt.Errorf("reading column names: %w", err)
	}

	if !rows.Next() {
		return Row{}, false, rows.Err()
	}

	scanDest := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range scanDest {
		scanArgs[i] = &scanDest[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return Row{}, false, fmt.Errorf("scanning row: %w", err)
	}

	out := Row{Columns: make([]Column, len(cols))}
	for i, name := range cols {
		out.Columns[i] = Column{Name: name, Value: valueFromAny(scanDest[i])}
	}
	return out, true, nil
}
