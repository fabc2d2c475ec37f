package capture

import (
	"math"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Payload is the finished, queryable result of decoding a recording or a run:
// one Table per group plus the header of the (first) file.
type Payload struct {
	Header *Header

	tables Tables

	once    sync.Once
	grouped map[string]map[string][]string
}

func NewPayload(tables Tables, header *Header) *Payload {
	if tables == nil {
		tables = make(Tables)
	}
	return &Payload{Header: header, tables: tables}
}

// Groups returns the group names present, sorted.
func (p *Payload) Groups() []string { return p.tables.Names() }

// Table returns a copy of the stored table of group.
func (p *Payload) Table(group string) (*Table, error) {
	t, ok := p.tables[group]
	if !ok {
		return nil, &KeyError{Group: group}
	}
	return t.Clone(), nil
}

// IndexMode selects the row labels of a query result.
type IndexMode int

const (
	// IndexDefault keeps the stored row positions.
	IndexDefault IndexMode = iota
	// IndexTime labels rows by their synchronized Time.
	IndexTime
	// IndexCounter labels rows by HFProbeCounter, or CYCLE when the group has
	// no probe counter.
	IndexCounter
)

type limitKind int

const (
	limitNone limitKind = iota
	limitCalibration
	limitCounter
	limitTime
)

// Limit bounds the rows a query returns. The zero value does not limit.
type Limit struct {
	kind    limitKind
	counter float64
	time    time.Time
}

// LimitToCalibration keeps rows whose counter does not exceed the last
// HFTimestamp counter.
func LimitToCalibration() Limit { return Limit{kind: limitCalibration} }

// LimitToCounter keeps rows whose CYCLE (or HFProbeCounter) is below n.
func LimitToCounter(n int64) Limit { return Limit{kind: limitCounter, counter: float64(n)} }

// LimitToTime keeps rows whose Time is before t.
func LimitToTime(t time.Time) Limit { return Limit{kind: limitTime, time: t} }

// Query describes a Get request. Empty Keys selects every column.
//
// A key that is not a column name is compiled as a regular expression and
// resolves to the first column it matches.
type Query struct {
	Keys    []string
	IndexAs IndexMode
	NotNA   bool
	Limit   Limit
}

// Get returns a view of group shaped by q. The stored table is not modified.
// Missing groups, and keys that neither name nor match a column, fail with a
// *KeyError.
func (p *Payload) Get(group string, q Query) (*Table, error) {
	t, ok := p.tables[group]
	if !ok {
		return nil, &KeyError{Group: group}
	}
	cols, err := resolveKeys(t, q.Keys)
	if err != nil {
		return nil, err
	}

	view := t
	if keep := p.limitMask(t, q.Limit); keep != nil {
		view = t.Filter(keep)
	}
	if col := indexColumn(view, q.IndexAs); col != "" {
		labels, _ := view.Column(col)
		if view == t {
			view = t.Clone()
		}
		if err := view.SetIndex(col, labels); err != nil {
			return nil, err
		}
	}

	out, err := view.Select(cols)
	if err != nil {
		return nil, err
	}
	if q.NotNA {
		out = out.DropEmptyRows()
	}
	return out, nil
}

func resolveKeys(t *Table, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return t.Columns(), nil
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		col, err := resolveKey(t, key)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

func resolveKey(t *Table, key string) (string, error) {
	if t.Has(key) {
		return key, nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return "", &KeyError{Group: t.Name(), Key: key}
	}
	for _, col := range t.Columns() {
		if re.MatchString(col) {
			return col, nil
		}
	}
	return "", &KeyError{Group: t.Name(), Key: key}
}

// limitMask returns the rows to keep, or nil when the limit does not apply to
// t.
func (p *Payload) limitMask(t *Table, l Limit) []bool {
	switch l.kind {
	case limitCalibration:
		last, ok := p.lastCalibrationCounter()
		if !ok {
			return nil
		}
		xs, ok := counterOf(t, ColumnProbeCounter, ColumnCycle)
		if !ok {
			return nil
		}
		return mask(xs, func(x float64) bool { return x <= last })
	case limitCounter:
		xs, ok := counterOf(t, ColumnCycle, ColumnProbeCounter)
		if !ok {
			return nil
		}
		return mask(xs, func(x float64) bool { return x < l.counter })
	case limitTime:
		times, ok := t.Column(ColumnTime)
		if !ok {
			return nil
		}
		keep := make([]bool, len(times))
		for i, v := range times {
			if ts, ok := toTime(v); ok {
				keep[i] = ts.Before(l.time)
			}
		}
		return keep
	}
	return nil
}

func (p *Payload) lastCalibrationCounter() (float64, bool) {
	ts, ok := p.tables[GroupHFTimestamp]
	if !ok {
		return 0, false
	}
	xs, ok := ts.Float64s(ColumnProbeCounter)
	if !ok {
		return 0, false
	}
	for i := len(xs) - 1; i >= 0; i-- {
		if !math.IsNaN(xs[i]) {
			return xs[i], true
		}
	}
	return 0, false
}

func counterOf(t *Table, cols ...string) ([]float64, bool) {
	for _, col := range cols {
		if xs, ok := t.Float64s(col); ok {
			return xs, true
		}
	}
	return nil, false
}

// mask evaluates pred per row; NaN rows are dropped.
func mask(xs []float64, pred func(float64) bool) []bool {
	keep := make([]bool, len(xs))
	for i, x := range xs {
		keep[i] = !math.IsNaN(x) && pred(x)
	}
	return keep
}

func indexColumn(t *Table, mode IndexMode) string {
	switch mode {
	case IndexTime:
		if t.Has(ColumnTime) {
			return ColumnTime
		}
	case IndexCounter:
		for _, col := range []string{ColumnProbeCounter, ColumnCycle} {
			if t.Has(col) {
				return col
			}
		}
	}
	return ""
}

// GroupSignals returns, per group, the column names sharing a name head.
func (p *Payload) GroupSignals() map[string]map[string][]string {
	p.once.Do(func() {
		p.grouped = make(map[string]map[string][]string, len(p.tables))
		for group, t := range p.tables {
			p.grouped[group] = GroupColumns(t.Columns())
		}
	})
	return p.grouped
}

// GroupSignalsOf returns the head grouping of one group's columns.
func (p *Payload) GroupSignalsOf(group string) (map[string][]string, error) {
	g, ok := p.GroupSignals()[group]
	if !ok {
		return nil, &KeyError{Group: group}
	}
	return g, nil
}

// GroupColumns groups column names by SignalNameHead, keeping column order
// within a head.
func GroupColumns(cols []string) map[string][]string {
	out := make(map[string][]string)
	for _, col := range cols {
		head := SignalNameHead(col)
		out[head] = append(out[head], col)
	}
	return out
}

// Heads returns the sorted name heads of a grouping.
func Heads(g map[string][]string) []string {
	out := make([]string, 0, len(g))
	for h := range g {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// GroupBy selects every column of group that shares the name head.
func (p *Payload) GroupBy(group, head string, q Query) (*Table, error) {
	g, err := p.GroupSignalsOf(group)
	if err != nil {
		return nil, err
	}
	cols, ok := g[head]
	if !ok {
		return nil, &KeyError{Group: group, Key: head}
	}
	q.Keys = cols
	return p.Get(group, q)
}

// HashOf returns the content hash of one column of group.
func (p *Payload) HashOf(group, key string, alg HashAlgorithm) (string, error) {
	t, ok := p.tables[group]
	if !ok {
		return "", &KeyError{Group: group}
	}
	col, err := resolveKey(t, key)
	if err != nil {
		return "", err
	}
	vals, _ := t.Column(col)
	return HashColumn(vals, alg), nil
}

// HashGCode hashes the executed G-code block sequence.
func (p *Payload) HashGCode(alg HashAlgorithm) (string, error) {
	t, ok := p.tables[GroupHFBlockEvent]
	if !ok {
		return "", &KeyError{Group: GroupHFBlockEvent}
	}
	vals, ok := t.Column(ColumnGCode)
	if !ok {
		return "", &KeyError{Group: GroupHFBlockEvent, Key: ColumnGCode}
	}
	return HashColumn(vals, alg), nil
}
