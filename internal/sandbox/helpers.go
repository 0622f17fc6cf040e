package sandbox

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/expr-lang/expr"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// ColumnError reports a helper reference to a column the dataset does not
// expose.
type ColumnError struct {
	Name      string
	Available []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column not found: %q", e.Name)
}

// helperNames lists the functions injected into every evaluation.
var helperNames = []string{
	"column", "where", "group_count", "group_mean",
	"mean_of", "sum_of", "sort_by", "head", "unique",
}

// helpers binds the allow-listed helper functions to the visible columns
// of one dataset.
type helpers struct {
	columns []string
}

func (h helpers) options() []expr.Option {
	return []expr.Option{
		expr.Function("column", h.column),
		expr.Function("where", h.where),
		expr.Function("group_count", h.groupCount),
		expr.Function("group_mean", h.groupMean),
		expr.Function("mean_of", h.meanOf),
		expr.Function("sum_of", h.sumOf),
		expr.Function("sort_by", h.sortBy),
		expr.Function("head", h.head),
		expr.Function("unique", h.unique),
	}
}

func (h helpers) checkColumn(v any) (string, error) {
	name, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column name must be a string, got %T", v)
	}
	if !slices.Contains(h.columns, name) {
		return "", &ColumnError{Name: name, Available: h.columns}
	}
	return name, nil
}

func arity(name string, params []any, n int) error {
	if len(params) != n {
		return fmt.Errorf("%s expects %d arguments, got %d", name, n, len(params))
	}
	return nil
}

// column(rows, name) returns the named column values in row order.
func (h helpers) column(params ...any) (any, error) {
	if err := arity("column", params, 2); err != nil {
		return nil, err
	}
	rows, err := toRecords(params[0])
	if err != nil {
		return nil, err
	}
	name, err := h.checkColumn(params[1])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i], _ = r.Field(name)
	}
	return out, nil
}

// where(rows, name, value) keeps rows whose column equals value.
func (h helpers) where(params ...any) (any, error) {
	if err := arity("where", params, 3); err != nil {
		return nil, err
	}
	rows, err := toRecords(params[0])
	if err != nil {
		return nil, err
	}
	name, err := h.checkColumn(params[1])
	if err != nil {
		return nil, err
	}
	out := []dataset.Record{}
	for _, r := range rows {
		v, _ := r.Field(name)
		if equalValues(v, params[2]) {
			out = append(out, r)
		}
	}
	return out, nil
}

// group_count(rows, by) counts rows per distinct value, largest group first.
func (h helpers) groupCount(params ...any) (any, error) {
	if err := arity("group_count", params, 2); err != nil {
		return nil, err
	}
	rows, err := toRecords(params[0])
	if err != nil {
		return nil, err
	}
	by, err := h.checkColumn(params[1])
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	var order []string
	for _, r := range rows {
		v, _ := r.Field(by)
		k := formatValue(v)
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})
	t := &Table{Columns: []string{by, "count"}}
	for _, k := range order {
		t.Rows = append(t.Rows, []string{k, formatValue(counts[k])})
	}
	return t, nil
}

// group_mean(rows, by, field) averages a numeric column per group, highest
// mean first.
func (h helpers) groupMean(params ...any) (any, error) {
	if err := arity("group_mean", params, 3); err != nil {
		return nil, err
	}
	rows, err := toRecords(params[0])
	if err != nil {
		return nil, err
	}
	by, err := h.checkColumn(params[1])
	if err != nil {
		return nil, err
	}
	field, err := h.checkColumn(params[2])
	if err != nil {
		return nil, err
	}
	type acc struct {
		sum float64
		n   int
	}
	groups := map[string]*acc{}
	var order []string
	for _, r := range rows {
		g, _ := r.Field(by)
		v, _ := r.Field(field)
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("group_mean: column %q is not numeric", field)
		}
		k := formatValue(g)
		a, seen := groups[k]
		if !seen {
			a = &acc{}
			groups[k] = a
			order = append(order, k)
		}
		a.sum += f
		a.n++
	}
	mean := func(k string) float64 { return groups[k].sum / float64(groups[k].n) }
	sort.SliceStable(order, func(i, j int) bool {
		if mi, mj := mean(order[i]), mean(order[j]); mi != mj {
			return mi > mj
		}
		return order[i] < order[j]
	})
	t := &Table{Columns: []string{by, "mean_" + field}}
	for _, k := range order {
		t.Rows = append(t.Rows, []string{k, formatFloat(mean(k))})
	}
	return t, nil
}

// mean_of(rows, field) averages a numeric column. An empty input yields 0.
func (h helpers) meanOf(params ...any) (any, error) {
	if err := arity("mean_of", params, 2); err != nil {
		return nil, err
	}
	sum, n, err := h.numericSum("mean_of", params[0], params[1])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return 0.0, nil
	}
	return sum / float64(n), nil
}

// sum_of(rows, field) totals a numeric column.
func (h helpers) sumOf(params ...any) (any, error) {
	if err := arity("sum_of", params, 2); err != nil {
		return nil, err
	}
	sum, _, err := h.numericSum("sum_of", params[0], params[1])
	if err != nil {
		return nil, err
	}
	if sum == float64(int(sum)) {
		return int(sum), nil
	}
	return sum, nil
}

func (h helpers) numericSum(fn string, rowsArg, fieldArg any) (float64, int, error) {
	rows, err := toRecords(rowsArg)
	if err != nil {
		return 0, 0, err
	}
	field, err := h.checkColumn(fieldArg)
	if err != nil {
		return 0, 0, err
	}
	var sum float64
	for _, r := range rows {
		v, _ := r.Field(field)
		f, ok := toFloat(v)
		if !ok {
			return 0, 0, fmt.Errorf("%s: column %q is not numeric", fn, field)
		}
		sum += f
	}
	return sum, len(rows), nil
}

// sort_by(rows, field, desc) orders rows by a column. Ties keep input order.
func (h helpers) sortBy(params ...any) (any, error) {
	if len(params) != 2 && len(params) != 3 {
		return nil, fmt.Errorf("sort_by expects 2 or 3 arguments, got %d", len(params))
	}
	rows, err := toRecords(params[0])
	if err != nil {
		return nil, err
	}
	field, err := h.checkColumn(params[1])
	if err != nil {
		return nil, err
	}
	desc := false
	if len(params) == 3 {
		b, ok := params[2].(bool)
		if !ok {
			return nil, fmt.Errorf("sort_by: desc must be a bool, got %T", params[2])
		}
		desc = b
	}
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b dataset.Record) int {
		av, _ := a.Field(field)
		bv, _ := b.Field(field)
		c := compareValues(av, bv)
		if desc {
			return -c
		}
		return c
	})
	return out, nil
}

// head(rows, n) returns at most the first n elements of any list.
func (h helpers) head(params ...any) (any, error) {
	if err := arity("head", params, 2); err != nil {
		return nil, err
	}
	n, ok := toFloat(params[1])
	if !ok || n < 0 {
		return nil, fmt.Errorf("head: n must be a non-negative number")
	}
	k := int(n)
	switch v := params[0].(type) {
	case []dataset.Record:
		return v[:min(k, len(v))], nil
	case []any:
		return v[:min(k, len(v))], nil
	case *Table:
		return &Table{Columns: v.Columns, Rows: v.Rows[:min(k, len(v.Rows))]}, nil
	}
	return nil, fmt.Errorf("head: expected a list, got %T", params[0])
}

// unique(rows, name) returns the distinct values of a column in first-seen
// order.
func (h helpers) unique(params ...any) (any, error) {
	if err := arity("unique", params, 2); err != nil {
		return nil, err
	}
	rows, err := toRecords(params[0])
	if err != nil {
		return nil, err
	}
	name, err := h.checkColumn(params[1])
	if err != nil {
		return nil, err
	}
	seen := map[any]bool{}
	out := []any{}
	for _, r := range rows {
		v, _ := r.Field(name)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

// toRecords accepts the shapes rows take inside expr: the typed slice from
// df, the []any produced by builtins like filter, or a single record.
func toRecords(v any) ([]dataset.Record, error) {
	switch rows := v.(type) {
	case []dataset.Record:
		return rows, nil
	case dataset.Record:
		return []dataset.Record{rows}, nil
	case []any:
		out := make([]dataset.Record, 0, len(rows))
		for _, item := range rows {
			switch r := item.(type) {
			case dataset.Record:
				out = append(out, r)
			case *dataset.Record:
				out = append(out, *r)
			default:
				return nil, fmt.Errorf("expected rows, got element of type %T", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected rows, got %T", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func compareValues(a, b any) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return cmp.Compare(fa, fb)
	}
	return cmp.Compare(formatValue(a), formatValue(b))
}
