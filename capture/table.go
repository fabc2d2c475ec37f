package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Table is a column-oriented set of rows of one group. Cells hold int32,
// int64, float32, float64, string, bool, time.Time or nil (null).
//
// Every table carries an index of row labels. A fresh table is indexed by row
// position; filtered views keep the labels of the rows they were taken from,
// and SetIndex replaces them with the values of another column.
type Table struct {
	name    string
	columns []string
	pos     map[string]int
	cells   [][]any
	n       int

	indexName string
	index     []any
}

func NewTable(name string) *Table {
	return &Table{name: name, pos: make(map[string]int)}
}

func (t *Table) Name() string { return t.name }

func (t *Table) Len() int { return t.n }

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *Table) Has(col string) bool {
	_, ok := t.pos[col]
	return ok
}

func (t *Table) addColumn(col string) int {
	if i, ok := t.pos[col]; ok {
		return i
	}
	t.columns = append(t.columns, col)
	t.cells = append(t.cells, make([]any, t.n))
	t.pos[col] = len(t.columns) - 1
	return len(t.columns) - 1
}

// AppendRow adds one row. Columns not yet present are created and backfilled
// with nulls; existing columns missing from cols get a null.
func (t *Table) AppendRow(cols []string, vals []any) {
	for i := range t.cells {
		t.cells[i] = append(t.cells[i], nil)
	}
	t.n++
	for i, col := range cols {
		c := t.addColumn(col)
		t.cells[c][t.n-1] = vals[i]
	}
	if t.index != nil {
		t.index = append(t.index, t.n-1)
	}
}

// AppendRecord adds a keyed row; new keys become columns in sorted order.
func (t *Table) AppendRecord(rec map[string]any) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]any, len(keys))
	for i, k := range keys {
		vals[i] = rec[k]
	}
	t.AppendRow(keys, vals)
}

// Column returns the cells of col. The slice is shared with the table.
func (t *Table) Column(col string) ([]any, bool) {
	i, ok := t.pos[col]
	if !ok {
		return nil, false
	}
	return t.cells[i], true
}

// Value returns the cell at (col, row), nil when the column does not exist.
func (t *Table) Value(col string, row int) any {
	i, ok := t.pos[col]
	if !ok || row < 0 || row >= t.n {
		return nil
	}
	return t.cells[i][row]
}

// Row returns the non-null cells of one row keyed by column.
func (t *Table) Row(row int) map[string]any {
	out := make(map[string]any, len(t.columns))
	for i, col := range t.columns {
		if v := t.cells[i][row]; v != nil {
			out[col] = v
		}
	}
	return out
}

// SetColumn creates or replaces col.
func (t *Table) SetColumn(col string, vals []any) error {
	if len(vals) != t.n {
		return fmt.Errorf("set column %q: %d values for %d rows", col, len(vals), t.n)
	}
	i := t.addColumn(col)
	t.cells[i] = vals
	return nil
}

// Index returns the index name ("" for positional) and the row labels.
func (t *Table) Index() (string, []any) {
	if t.index == nil {
		labels := make([]any, t.n)
		for i := range labels {
			labels[i] = i
		}
		return "", labels
	}
	out := make([]any, len(t.index))
	copy(out, t.index)
	return t.indexName, out
}

// SetIndex replaces the row labels.
func (t *Table) SetIndex(name string, labels []any) error {
	if len(labels) != t.n {
		return fmt.Errorf("set index %q: %d labels for %d rows", name, len(labels), t.n)
	}
	t.indexName = name
	t.index = append([]any(nil), labels...)
	return nil
}

// Clone deep-copies the column structure; cell values are immutable scalars.
func (t *Table) Clone() *Table {
	c := &Table{
		name:      t.name,
		columns:   append([]string(nil), t.columns...),
		pos:       make(map[string]int, len(t.pos)),
		cells:     make([][]any, len(t.cells)),
		n:         t.n,
		indexName: t.indexName,
	}
	for k, v := range t.pos {
		c.pos[k] = v
	}
	for i, col := range t.cells {
		c.cells[i] = append([]any(nil), col...)
	}
	if t.index != nil {
		c.index = append([]any(nil), t.index...)
	}
	return c
}

// Select returns a copy holding only cols, in the given order.
func (t *Table) Select(cols []string) (*Table, error) {
	out := &Table{name: t.name, pos: make(map[string]int, len(cols)), n: t.n, indexName: t.indexName}
	for _, col := range cols {
		i, ok := t.pos[col]
		if !ok {
			return nil, &KeyError{Group: t.name, Key: col}
		}
		if _, dup := out.pos[col]; dup {
			continue
		}
		out.columns = append(out.columns, col)
		out.cells = append(out.cells, append([]any(nil), t.cells[i]...))
		out.pos[col] = len(out.columns) - 1
	}
	_, out.index = t.Index()
	return out, nil
}

// Filter returns a copy holding the rows where keep is true. Row labels are
// carried over.
func (t *Table) Filter(keep []bool) *Table {
	out := &Table{name: t.name, columns: append([]string(nil), t.columns...), pos: make(map[string]int, len(t.pos)), indexName: t.indexName}
	for k, v := range t.pos {
		out.pos[k] = v
	}
	out.cells = make([][]any, len(t.cells))
	_, labels := t.Index()
	out.index = make([]any, 0)
	for r := 0; r < t.n; r++ {
		if r >= len(keep) || !keep[r] {
			continue
		}
		for c := range t.cells {
			out.cells[c] = append(out.cells[c], t.cells[c][r])
		}
		out.index = append(out.index, labels[r])
		out.n++
	}
	for c := range out.cells {
		if out.cells[c] == nil {
			out.cells[c] = []any{}
		}
	}
	return out
}

// DropEmptyRows removes rows whose cells are all null.
func (t *Table) DropEmptyRows() *Table {
	keep := make([]bool, t.n)
	for r := 0; r < t.n; r++ {
		for c := range t.cells {
			if t.cells[c][r] != nil {
				keep[r] = true
				break
			}
		}
	}
	return t.Filter(keep)
}

// Append concatenates the rows of other after the rows of t. Columns are
// unioned; cells missing on either side are null. The index is reset to row
// positions.
func (t *Table) Append(other *Table) {
	start := t.n
	for i := range t.cells {
		t.cells[i] = append(t.cells[i], make([]any, other.n)...)
	}
	t.n += other.n
	for oc, col := range other.columns {
		c := t.addColumn(col)
		copy(t.cells[c][start:], other.cells[oc])
	}
	t.index = nil
	t.indexName = ""
}

// Float64s returns col as floats; nulls and non-numeric cells are NaN.
func (t *Table) Float64s(col string) ([]float64, bool) {
	cells, ok := t.Column(col)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(cells))
	for i, v := range cells {
		f, ok := toFloat(v)
		if !ok {
			f = math.NaN()
		}
		out[i] = f
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	ts, ok := v.(time.Time)
	return ts, ok
}

// Tables maps a group name to its table.
type Tables map[string]*Table

// Names returns the group names in sorted order.
func (ts Tables) Names() []string {
	out := make([]string, 0, len(ts))
	for k := range ts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
