package sandbox

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// Kind tags the variant held by a Result.
type Kind int

const (
	KindScalar Kind = iota
	KindTable
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindTable:
		return "table"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Result is the outcome of executing a fragment: exactly one of a scalar
// value, a table, or an error message, as selected by Kind.
type Result struct {
	Kind  Kind
	Value any
	Table *Table
	Err   string
	Cause error
}

func scalar(v any) Result { return Result{Kind: KindScalar, Value: v} }

func table(t *Table) Result { return Result{Kind: KindTable, Table: t} }

func failure(msg string, cause error) Result {
	return Result{Kind: KindError, Err: msg, Cause: cause}
}

// IsError reports whether the fragment failed.
func (r Result) IsError() bool { return r.Kind == KindError }

// String renders the result as plain text.
func (r Result) String() string {
	switch r.Kind {
	case KindTable:
		return r.Table.String()
	case KindError:
		return r.Err
	default:
		return formatValue(r.Value)
	}
}

// Table is a rectangular result with named columns. Cells are pre-rendered.
type Table struct {
	Columns []string
	Rows    [][]string
}

// String renders the table with aligned columns and a row-count footer.
func (t *Table) String() string {
	if t == nil {
		return "(empty table)"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	fmt.Fprintf(&b, "(%d rows)", len(t.Rows))
	return b.String()
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

func recordsTable(records []dataset.Record, columns []string) *Table {
	t := &Table{Columns: columns}
	for _, r := range records {
		row := make([]string, len(columns))
		for i, c := range columns {
			v, _ := r.Field(c)
			row[i] = formatValue(v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// classify converts an evaluated value into a Result. Records and
// collections become tables; everything else is a scalar.
func classify(v any, columns []string) Result {
	switch val := v.(type) {
	case nil:
		return scalar(nil)
	case *Table:
		return table(val)
	case dataset.Record:
		return table(recordsTable([]dataset.Record{val}, columns))
	case []dataset.Record:
		return table(recordsTable(val, columns))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if recs, err := toRecords(v); err == nil && rv.Len() > 0 {
			return table(recordsTable(recs, columns))
		}
		t := &Table{Columns: []string{"value"}}
		for i := 0; i < rv.Len(); i++ {
			t.Rows = append(t.Rows, []string{formatValue(rv.Index(i).Interface())})
		}
		return table(t)
	case reflect.Map:
		t := &Table{Columns: []string{"key", "value"}}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return formatValue(keys[i].Interface()) < formatValue(keys[j].Interface())
		})
		for _, k := range keys {
			t.Rows = append(t.Rows, []string{formatValue(k.Interface()), formatValue(rv.MapIndex(k).Interface())})
		}
		return table(t)
	}
	return scalar(v)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = formatValue(p)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Round(f*1e4)/1e4, 'f', -1, 64)
}
