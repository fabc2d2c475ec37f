package capture

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecording_PositionalRowFollowsCatalog(t *testing.T) {
	src := newFixture("a.json", "", "").hf([]any{1, 2.5}).source(t)

	rec, err := DecodeRecording(src, Options{})
	require.NoError(t, err)

	hf := rec.Tables[GroupHFData]
	require.NotNil(t, hf)
	assert.Equal(t, []string{"CYCLE", "X"}, hf.Columns())
	assert.Equal(t, 1, hf.Len())
	assert.Equal(t, int32(1), hf.Value("CYCLE", 0))
	assert.Equal(t, float32(2.5), hf.Value("X", 0))
	assert.Equal(t, 1, rec.Stats.Rows[GroupHFData])
}

func TestDecodeRecording_RenameHF(t *testing.T) {
	src := newFixture("a.json", "", "").hf([]any{1, 2.5}).source(t)

	rec, err := DecodeRecording(src, Options{RenameHF: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"CYCLE", "X|X1"}, rec.Tables[GroupHFData].Columns())
}

func TestDecodeRecording_HeaderFields(t *testing.T) {
	f := newFixture("a.json", "", "b.json")
	counter := int64(42)
	f.startCounter = &counter
	f.cycleMs = 2

	rec, err := DecodeRecording(f.source(t), Options{})
	require.NoError(t, err)

	h := rec.Header
	assert.Equal(t, "DMU50", h.Machine.Name)
	assert.Equal(t, "4.1", h.Version.Recorder)
	assert.Equal(t, map[string]string{"activeTool": "6"}, h.Job.TriggersOn)
	assert.Equal(t, map[string]string{"activeTool": "7"}, h.Job.TriggersOff)
	assert.True(t, h.Time.StartTime.Equal(t0))
	assert.Equal(t, int64(42), h.Time.StartCounter)
	assert.Equal(t, int64(2), h.Time.CycleTimeMs)
	assert.Equal(t, ChainInfo{Previous: "", Actual: "a.json", Next: "b.json"}, rec.Chain)
}

func TestDecodeRecording_UnsupportedCatalogType(t *testing.T) {
	f := newFixture("a.json", "", "")
	f.hfCatalog = append(f.hfCatalog, map[string]any{"Name": "Z", "Type": "COMPLEX", "Axis": "Z1"})

	_, err := DecodeRecording(f.source(t), Options{})
	var ute *UnsupportedTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "COMPLEX", ute.Type)
}

func TestParseValueType(t *testing.T) {
	cases := map[string]ValueType{
		"INTEGER": TypeInt32,
		"uint":    TypeInt32,
		"Float":   TypeFloat32,
		"DOUBLE":  TypeFloat64,
		"string":  TypeString,
	}
	for in, want := range cases {
		got, err := ParseValueType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseValueType("int64")
	assert.Error(t, err)
}

func TestValueTypeCast(t *testing.T) {
	v, err := TypeInt32.Cast("17")
	require.NoError(t, err)
	assert.Equal(t, int32(17), v)

	v, err = TypeFloat64.Cast(" 1.25 ")
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	v, err = TypeInt32.Cast(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = TypeFloat32.Cast("abc")
	assert.Error(t, err)
}

func TestValueTypeCast_Int32Range(t *testing.T) {
	v, err := TypeInt32.Cast(json.Number("2147483647"))
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), v)

	v, err = TypeInt32.Cast(json.Number("-2147483648"))
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32), v)

	for _, raw := range []any{json.Number("3000000000"), json.Number("2147483648"), json.Number("-2147483649"), "3000000000", 3e9, json.Number("3e9")} {
		_, err := TypeInt32.Cast(raw)
		assert.Error(t, err, "%v", raw)
	}
}

func TestDecodeRecording_HFCounterOverflowFails(t *testing.T) {
	src := newFixture("a.json", "", "").
		hf([]any{2147483647, 1.0}, []any{2147483648, 2.0}).
		source(t)

	_, err := DecodeRecording(src, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestDecodeRecording_LFDropsNullAndOverflowValues(t *testing.T) {
	const addr = "/Channel/State/actToolIdent"
	ts := t0.Format(time.RFC3339)
	f := newFixture("a.json", "", "").message(map[string]any{
		GroupLFData: []any{
			map[string]any{"address": addr, "value": nil, "value_type": "integer", "timestamp": ts},
			map[string]any{"address": addr, "value": 3000000000, "value_type": "integer", "timestamp": ts},
			map[string]any{"address": addr, "value": 7, "value_type": "integer", "timestamp": ts},
		},
	})
	warn, _ := collect()

	rec, err := DecodeRecording(f.source(t), Options{Warn: warn})
	require.NoError(t, err)
	lf := rec.Tables[GroupLFData]
	require.Equal(t, 1, lf.Len())
	assert.Equal(t, int32(7), lf.Value(addr, 0))
	assert.Equal(t, 2, rec.Stats.Dropped[GroupLFData])
}

func TestDecodeRecording_LFDropsMalformedRows(t *testing.T) {
	const addr = "/Channel/State/actToolIdent"
	ts := t0.Format("2006-01-02T15:04:05.000")
	f := newFixture("a.json", "", "").message(map[string]any{
		GroupLFData: []any{
			map[string]any{"address": addr, "value": "6", "value_type": "string", "timestamp": ts, ColumnProbeCounter: 10},
			map[string]any{"address": "/unknown", "value": "6", "value_type": "string", "timestamp": ts},
			map[string]any{"address": addr, "value": "6", "value_type": "quaternion", "timestamp": ts},
			map[string]any{"address": addr, "value": "x", "value_type": "integer", "timestamp": ts},
			map[string]any{"address": addr, "value": "6", "value_type": "string"},
		},
	})
	warn, got := collect()

	rec, err := DecodeRecording(f.source(t), Options{Warn: warn})
	require.NoError(t, err)

	lf := rec.Tables[GroupLFData]
	require.Equal(t, 1, lf.Len())
	assert.Equal(t, "6", lf.Value(addr, 0))
	assert.Equal(t, int64(10), lf.Value(ColumnProbeCounter, 0))
	at, ok := lf.Value(ColumnTime, 0).(time.Time)
	require.True(t, ok)
	assert.True(t, at.Equal(t0))
	assert.Equal(t, 4, rec.Stats.Dropped[GroupLFData])
	assert.Equal(t, []WarningKind{WarnDroppedRows}, kinds(*got))
}

func TestDecodeRecording_UnrecognizedGroup(t *testing.T) {
	f := newFixture("a.json", "", "").message(map[string]any{"Telemetry": []any{}})

	_, err := DecodeRecording(f.source(t), Options{})
	var uge *UnrecognizedGroupError
	require.ErrorAs(t, err, &uge)
	assert.Equal(t, "Telemetry", uge.Group)
}

func TestDecodeRecording_GroupFilterSkipsBeforeRecognition(t *testing.T) {
	f := newFixture("a.json", "", "").
		hf([]any{1, 2.5}).
		message(map[string]any{"Telemetry": []any{}}).
		stamp(0, t0)

	rec, err := DecodeRecording(f.source(t), Options{Groups: []string{GroupHFData}})
	require.NoError(t, err)
	assert.Equal(t, []string{GroupHFData}, rec.Tables.Names())
}

func TestDecodeRecording_MissingCatalog(t *testing.T) {
	f := newFixture("a.json", "", "").message(map[string]any{GroupExternalData: []any{[]any{1}}})

	_, err := DecodeRecording(f.source(t), Options{})
	var uge *UnrecognizedGroupError
	require.ErrorAs(t, err, &uge)
	assert.Equal(t, GroupExternalData, uge.Group)
	assert.NotEmpty(t, uge.Reason)
}

func TestDecodeRecording_RowShapeMismatch(t *testing.T) {
	f := newFixture("a.json", "", "").hf([]any{1, 2.5}, []any{2})

	_, err := DecodeRecording(f.source(t), Options{})
	var rse *RowShapeError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, 1, rse.Row)
	assert.Equal(t, 1, rse.Got)
	assert.Equal(t, 2, rse.Catalog)
}

func TestDecodeRecording_ExperimentalGroupWarns(t *testing.T) {
	warn, got := collect()
	rec, err := DecodeRecording(newFixture("a.json", "", "").source(t), Options{Warn: warn})
	require.NoError(t, err)
	assert.Empty(t, *got)
	assert.NotContains(t, rec.Header.Signals, GroupExternalData)

	f := newFixture("b.json", "", "").message(map[string]any{GroupExternalData: []any{[]any{0.5}}})
	f.extCatalog = []map[string]any{{"Name": "E", "Type": "DOUBLE"}}
	rec, err = DecodeRecording(f.source(t), Options{Warn: warn})
	require.NoError(t, err)
	assert.Equal(t, []WarningKind{WarnExperimentalGroup}, kinds(*got))
	assert.Equal(t, 0.5, rec.Tables[GroupExternalData].Value("E", 0))
}

func TestDecodeRecording_EventRecordsAreFlattened(t *testing.T) {
	f := newFixture("a.json", "", "").message(map[string]any{
		GroupHFBlockEvent: map[string]any{
			ColumnProbeCounter: 5,
			ColumnGCode:        "G1 X10",
			"Block":            map[string]any{"line": 3, "prog": "MAIN.MPF"},
		},
	}).message(map[string]any{
		GroupHFBlockEvent: []any{map[string]any{ColumnProbeCounter: 6, ColumnGCode: "G0 Z50"}},
	})

	rec, err := DecodeRecording(f.source(t), Options{})
	require.NoError(t, err)

	be := rec.Tables[GroupHFBlockEvent]
	require.Equal(t, 2, be.Len())
	assert.ElementsMatch(t, []string{"Block.line", "Block.prog", ColumnGCode, ColumnProbeCounter}, be.Columns())
	assert.Equal(t, int64(3), be.Value("Block.line", 0))
	assert.Nil(t, be.Value("Block.line", 1))
	assert.Equal(t, "G0 Z50", be.Value(ColumnGCode, 1))
}

func TestDecodeRecording_InvalidJSON(t *testing.T) {
	_, err := DecodeRecording(Source{Name: "bad.json", Data: []byte("{")}, Options{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoStartFile))
}

func TestDecodePayload_CountsMatchInput(t *testing.T) {
	schema := NewSchema(GroupHFData, FamilyHF, []Signal{
		{Family: FamilyHF, Name: "CYCLE", Type: TypeInt32, Address: "CYCLE"},
	})
	var msgs []map[string]any
	for i := 0; i < 5; i++ {
		msgs = append(msgs, map[string]any{GroupHFData: []any{[]any{float64(i)}, []any{float64(i) + 0.5}}})
	}

	tables, stats, err := DecodePayload(msgs, map[string]*Schema{GroupHFData: schema}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Messages)
	assert.Equal(t, 10, tables[GroupHFData].Len())
	assert.Equal(t, int32(4), tables[GroupHFData].Value("CYCLE", 9))
}
