// Package records flattens raw Langfuse records into warehouse rows.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/iancoleman/strcase"
)

// KeyColumn is the unique key of every Langfuse table.
const KeyColumn = "Id"

// Kind is the storage kind of a column.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindTimestamp
	// KindJSON columns hold the JSON text of truthy values and NULL otherwise.
	KindJSON
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	case KindJSON:
		return "json"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field maps one API key to one column.
type Field struct {
	Key    string
	Column string
	Kind   Kind
}

// Table describes the warehouse table of one entity.
type Table struct {
	Name   string
	Fields []Field
}

// Row holds one value per table field, in field order.
type Row []any

// newTable builds a table whose columns are the CamelCase form of the API keys.
func newTable(name string, specs ...fieldSpec) Table {
	fields := make([]Field, len(specs))
	for i, s := range specs {
		fields[i] = Field{Key: s.key, Column: strcase.ToCamel(s.key), Kind: s.kind}
	}
	return Table{Name: name, Fields: fields}
}

type fieldSpec struct {
	key  string
	kind Kind
}

func text(key string) fieldSpec      { return fieldSpec{key, KindText} }
func number(key string) fieldSpec    { return fieldSpec{key, KindNumber} }
func boolean(key string) fieldSpec   { return fieldSpec{key, KindBool} }
func timestamp(key string) fieldSpec { return fieldSpec{key, KindTimestamp} }
func jsonField(key string) fieldSpec { return fieldSpec{key, KindJSON} }

// Columns returns the column names in field order.
func (t Table) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Column
	}
	return cols
}

// KeyIndex returns the position of the key column, or -1.
func (t Table) KeyIndex() int {
	for i, f := range t.Fields {
		if f.Column == KeyColumn {
			return i
		}
	}
	return -1
}

// Flatten converts raw records into rows. Every record must carry an id.
func (t Table) Flatten(raw []json.RawMessage) ([]Row, error) {
	rows := make([]Row, 0, len(raw))
	for i, r := range raw {
		rec, err := decode(r)
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", t.Name, i, err)
		}
		if id, ok := rec["id"].(string); !ok || id == "" {
			return nil, fmt.Errorf("%s record %d: missing id", t.Name, i)
		}

		row := make(Row, len(t.Fields))
		for j, f := range t.Fields {
			v, err := convert(f, rec[f.Key])
			if err != nil {
				return nil, fmt.Errorf("%s record %d field %s: %w", t.Name, i, f.Key, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// IDs returns the id of every record, in order.
func IDs(raw []json.RawMessage) ([]string, error) {
	ids := make([]string, 0, len(raw))
	for i, r := range raw {
		var rec struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("record %d: missing id", i)
		}
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func decode(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record is not an object")
	}
	return rec, nil
}

func convert(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch f.Kind {
	case KindJSON:
		if !truthy(v) {
			return nil, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil

	case KindNumber:
		switch n := v.(type) {
		case json.Number:
			return n.Float64()
		case string:
			return strconv.ParseFloat(n, 64)
		default:
			return nil, fmt.Errorf("want number, got %T", v)
		}

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		return b, nil

	case KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want timestamp string, got %T", v)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return ts.UTC(), nil

	default:
		switch s := v.(type) {
		case string:
			return s, nil
		case json.Number:
			return s.String(), nil
		case bool:
			return strconv.FormatBool(s), nil
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}
	}
}

// truthy reports whether a decoded JSON value is non-empty: not null, not
// false, not zero and not an empty string, array or object.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case json.Number:
		f, err := x.Float64()
		return err != nil || f != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
