package capture

import (
	"fmt"
)

// GroupKind selects the decode function of a payload group.
type GroupKind int

const (
	// KindPositional rows are arrays laid out by the group's catalog.
	KindPositional GroupKind = iota
	// KindAddressed rows are records naming their signal by address.
	KindAddressed
	// KindEvent values are already-structured records.
	KindEvent
)

var groupKinds = map[string]GroupKind{
	GroupHFData:       KindPositional,
	GroupExternalData: KindPositional,
	GroupLFData:       KindAddressed,
	GroupHFCallEvent:  KindEvent,
	GroupHFBlockEvent: KindEvent,
	GroupHFTimestamp:  KindEvent,
}

// KindOf reports how a group is decoded and whether the group is known.
func KindOf(group string) (GroupKind, bool) {
	k, ok := groupKinds[group]
	return k, ok
}

// DecodeStats counts messages and rows seen by the payload decoder.
type DecodeStats struct {
	Messages int
	Rows     map[string]int
	Dropped  map[string]int
}

func newDecodeStats() DecodeStats {
	return DecodeStats{Rows: make(map[string]int), Dropped: make(map[string]int)}
}

// DroppedTotal sums dropped rows over every group.
func (s DecodeStats) DroppedTotal() int {
	n := 0
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

// decoder accumulates the rows of one file's payload into per-group tables.
type decoder struct {
	schemas map[string]*Schema
	opts    Options
	tables  Tables
	stats   DecodeStats
}

// DecodePayload turns payload messages into one table per group encountered.
// Each message maps group names to rows (positional or addressed groups) or to
// a single record (event groups). Messages must have been decoded with
// json.Decoder.UseNumber.
func DecodePayload(messages []map[string]any, schemas map[string]*Schema, opts Options) (Tables, DecodeStats, error) {
	d := &decoder{schemas: schemas, opts: opts, tables: make(Tables), stats: newDecodeStats()}
	for i, msg := range messages {
		d.stats.Messages++
		for group, val := range msg {
			if !opts.wants(group) {
				continue
			}
			if err := d.decodeGroup(group, val); err != nil {
				return nil, d.stats, fmt.Errorf("payload message %d: %w", i, err)
			}
		}
	}
	return d.tables, d.stats, nil
}

func (d *decoder) table(group string) *Table {
	t, ok := d.tables[group]
	if !ok {
		t = NewTable(group)
		d.tables[group] = t
	}
	return t
}

func (d *decoder) decodeGroup(group string, val any) error {
	kind, ok := KindOf(group)
	if !ok {
		return &UnrecognizedGroupError{Group: group}
	}
	switch kind {
	case KindPositional, KindAddressed:
		schema, ok := d.schemas[group]
		if !ok {
			return &UnrecognizedGroupError{Group: group, Reason: "no signal catalog in header"}
		}
		rows, ok := val.([]any)
		if !ok {
			return fmt.Errorf("%s: expected an array of rows, got %T", group, val)
		}
		if kind == KindPositional {
			return d.decodePositional(schema, rows)
		}
		d.decodeAddressed(schema, rows)
		return nil
	default:
		return d.decodeEvent(group, val)
	}
}

func (d *decoder) decodePositional(schema *Schema, rows []any) error {
	t := d.table(schema.Group)
	cols := schema.Columns(d.opts.RenameHF)
	for _, r := range rows {
		row, ok := r.([]any)
		if !ok {
			return fmt.Errorf("%s row %d: expected an array, got %T", schema.Group, d.stats.Rows[schema.Group], r)
		}
		if len(row) != schema.Len() {
			return &RowShapeError{Group: schema.Group, Row: d.stats.Rows[schema.Group], Got: len(row), Catalog: schema.Len()}
		}
		vals := make([]any, len(row))
		for i, raw := range row {
			v, err := schema.Signals[i].Type.Cast(raw)
			if err != nil {
				return fmt.Errorf("%s row %d, %s: %w", schema.Group, d.stats.Rows[schema.Group], cols[i], err)
			}
			vals[i] = v
		}
		t.AppendRow(cols, vals)
		d.stats.Rows[schema.Group]++
	}
	return nil
}

// decodeAddressed never fails: a row that cannot be matched or cast is
// dropped and counted so one malformed device message does not cost the rest
// of the recording.
func (d *decoder) decodeAddressed(schema *Schema, rows []any) {
	t := d.table(schema.Group)
	for _, r := range rows {
		cols, vals, ok := decodeAddressedRow(schema, r)
		if !ok {
			d.stats.Dropped[schema.Group]++
			continue
		}
		t.AppendRow(cols, vals)
		d.stats.Rows[schema.Group]++
	}
}

func decodeAddressedRow(schema *Schema, r any) ([]string, []any, bool) {
	row, ok := r.(map[string]any)
	if !ok {
		return nil, nil, false
	}
	for _, key := range []string{"address", "value", "value_type", "timestamp"} {
		if _, ok := row[key]; !ok {
			return nil, nil, false
		}
	}
	address, ok := row["address"].(string)
	if !ok {
		return nil, nil, false
	}
	sig, ok := schema.Lookup(address)
	if !ok {
		return nil, nil, false
	}
	typeName, ok := row["value_type"].(string)
	if !ok {
		return nil, nil, false
	}
	vt, err := ParseValueType(typeName)
	if err != nil {
		return nil, nil, false
	}
	if row["value"] == nil {
		return nil, nil, false
	}
	value, err := vt.Cast(row["value"])
	if err != nil {
		return nil, nil, false
	}
	ts, err := ParseTime(row["timestamp"])
	if err != nil {
		return nil, nil, false
	}

	cols := []string{sig.Column(false), ColumnTime}
	vals := []any{value, ts}
	if counter, ok := row[ColumnProbeCounter]; ok {
		cols = append(cols, ColumnProbeCounter)
		vals = append(vals, normalizeJSON(counter))
	}
	return cols, vals, true
}

func (d *decoder) decodeEvent(group string, val any) error {
	var records []map[string]any
	switch v := val.(type) {
	case map[string]any:
		records = []map[string]any{v}
	case []any:
		for i, el := range v {
			rec, ok := el.(map[string]any)
			if !ok {
				return fmt.Errorf("%s record %d: expected an object, got %T", group, i, el)
			}
			records = append(records, rec)
		}
	default:
		return fmt.Errorf("%s: expected a record, got %T", group, val)
	}

	t := d.table(group)
	for _, rec := range records {
		rec = normalizeJSON(rec).(map[string]any)
		if s, ok := rec[ColumnTime].(string); ok {
			ts, err := ParseTime(s)
			if err != nil {
				return fmt.Errorf("%s: %w", group, err)
			}
			rec[ColumnTime] = ts
		}
		t.AppendRecord(FlattenRecord(rec, d.opts.Flatten))
		d.stats.Rows[group]++
	}
	return nil
}
