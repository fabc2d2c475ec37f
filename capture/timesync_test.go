package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calibrationTable(points ...any) *Table {
	ts := NewTable(GroupHFTimestamp)
	for i := 0; i+1 < len(points); i += 2 {
		ts.AppendRecord(map[string]any{ColumnProbeCounter: points[i], ColumnTime: points[i+1]})
	}
	return ts
}

func hfTable(cycles ...int32) *Table {
	hf := NewTable(GroupHFData)
	for _, c := range cycles {
		hf.AppendRow([]string{ColumnCycle}, []any{c})
	}
	return hf
}

func syncedTimes(t *testing.T, tbl *Table) []time.Time {
	t.Helper()
	cells, ok := tbl.Column(ColumnTime)
	require.True(t, ok, "no Time column")
	out := make([]time.Time, len(cells))
	for i, v := range cells {
		ts, ok := v.(time.Time)
		require.True(t, ok, "row %d: %T", i, v)
		out[i] = ts
	}
	return out
}

func TestSynchronize_InterpolatesAndExtrapolates(t *testing.T) {
	tables := Tables{
		GroupHFTimestamp: calibrationTable(int64(0), t0, int64(100), t0.Add(time.Second)),
		GroupHFData:      hfTable(0, 50, 100, 150, -50),
	}

	rep, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 2, rep.Points)
	assert.Equal(t, []string{GroupHFData}, rep.Groups)

	got := syncedTimes(t, tables[GroupHFData])
	want := []time.Duration{0, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond, -500 * time.Millisecond}
	for i, d := range want {
		assert.True(t, got[i].Equal(t0.Add(d)), "row %d: got %s want %s", i, got[i], t0.Add(d))
	}
}

func TestSynchronize_ExactAtCalibrationPoints(t *testing.T) {
	pts := []any{
		int64(10), t0,
		int64(35), t0.Add(310 * time.Millisecond),
		int64(90), t0.Add(2 * time.Second),
	}
	tables := Tables{
		GroupHFTimestamp: calibrationTable(pts...),
		GroupHFData:      hfTable(10, 35, 90),
	}
	_, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)

	got := syncedTimes(t, tables[GroupHFData])
	for i := 0; i < 3; i++ {
		assert.True(t, got[i].Equal(pts[2*i+1].(time.Time)), "row %d", i)
	}
}

func TestSynchronize_Monotonic(t *testing.T) {
	tables := Tables{
		GroupHFTimestamp: calibrationTable(
			int64(0), t0,
			int64(40), t0.Add(400*time.Millisecond),
			int64(100), t0.Add(time.Second),
		),
		GroupHFData: hfTable(-10, 0, 5, 39, 40, 41, 99, 100, 130),
	}
	_, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)

	got := syncedTimes(t, tables[GroupHFData])
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].After(got[i-1]), "row %d not after row %d", i, i-1)
	}
}

func TestSynchronize_DeterministicAcrossRuns(t *testing.T) {
	build := func() Tables {
		return Tables{
			GroupHFTimestamp: calibrationTable(int64(0), t0, int64(7), t0.Add(333*time.Millisecond)),
			GroupHFData:      hfTable(1, 2, 3, 11),
		}
	}
	a, b := build(), build()
	_, err := Synchronize(a, nil, SaturateZero)
	require.NoError(t, err)
	_, err = Synchronize(b, nil, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, syncedTimes(t, a[GroupHFData]), syncedTimes(t, b[GroupHFData]))
}

func TestSynchronize_KeepsCalibrationZone(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	local := t0.In(cet)
	tables := Tables{
		GroupHFTimestamp: calibrationTable(int64(0), local, int64(100), local.Add(time.Second)),
		GroupHFData:      hfTable(50),
	}
	_, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)

	got := syncedTimes(t, tables[GroupHFData])[0]
	assert.Equal(t, cet, got.Location())
	assert.Equal(t, "09:00:00.5", got.Format("15:04:05.9"))

	tables[GroupHFTimestamp] = calibrationTable(int64(0), t0, int64(100), t0.Add(time.Second))
	_, err = Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, syncedTimes(t, tables[GroupHFData])[0].Location())
}

func TestSynchronize_SkippedWithoutCalibration(t *testing.T) {
	tables := Tables{GroupHFData: hfTable(1, 2)}

	rep, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
	assert.False(t, tables[GroupHFData].Has(ColumnTime))
}

func TestSynchronize_EventGroupsUseProbeCounter(t *testing.T) {
	calls := NewTable(GroupHFCallEvent)
	calls.AppendRecord(map[string]any{ColumnProbeCounter: int64(25), "Call": "L100"})
	tables := Tables{
		GroupHFTimestamp:  calibrationTable(int64(0), t0, int64(100), t0.Add(time.Second)),
		GroupHFCallEvent:  calls,
		GroupHFBlockEvent: NewTable(GroupHFBlockEvent),
	}

	rep, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)
	assert.Contains(t, rep.Groups, GroupHFCallEvent)
	assert.True(t, syncedTimes(t, calls)[0].Equal(t0.Add(250*time.Millisecond)))
}

func TestCalibration_SaturatesExtrapolatedZero(t *testing.T) {
	ts := calibrationTable(
		int64(100), time.Unix(0, 100).UTC(),
		int64(200), time.Unix(0, 200).UTC(),
	)

	cal, err := NewCalibration(ts, nil, SaturateZero)
	require.NoError(t, err)
	at, saturated, ok := cal.At(0)
	require.True(t, ok)
	assert.True(t, saturated)
	assert.Equal(t, int64(100), at.UnixNano())

	cal, err = NewCalibration(ts, nil, SaturateOff)
	require.NoError(t, err)
	at, saturated, ok = cal.At(0)
	require.True(t, ok)
	assert.False(t, saturated)
	assert.Equal(t, int64(0), at.UnixNano())
}

func TestSynchronize_ReportsSaturation(t *testing.T) {
	tables := Tables{
		GroupHFTimestamp: calibrationTable(
			int64(100), time.Unix(0, 100).UTC(),
			int64(200), time.Unix(0, 200).UTC(),
		),
		GroupHFData: hfTable(0, 150),
	}
	rep, err := Synchronize(tables, nil, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Saturated)
}

func TestCalibration_AnchorMerge(t *testing.T) {
	ts := calibrationTable(int64(0), t0, int64(100), t0.Add(time.Second))

	anchor := &TimeInfo{StartTime: t0.Add(3 * time.Second), StartCounter: 200}
	cal, err := NewCalibration(ts, anchor, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Points())
	at, _, _ := cal.At(150)
	assert.True(t, at.Equal(t0.Add(2*time.Second)), "got %s", at)

	dup := &TimeInfo{StartTime: t0.Add(5 * time.Second), StartCounter: 100}
	cal, err = NewCalibration(ts, dup, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, 2, cal.Points())
	at, _, _ = cal.At(100)
	assert.True(t, at.Equal(t0.Add(time.Second)))

	none := &TimeInfo{StartTime: t0.Add(9 * time.Second), StartCounter: -1}
	cal, err = NewCalibration(ts, none, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, 2, cal.Points())
}

func TestCalibration_DuplicateCountersKeepFirst(t *testing.T) {
	ts := calibrationTable(
		int64(100), t0.Add(time.Second),
		int64(0), t0,
		int64(100), t0.Add(7*time.Second),
	)
	cal, err := NewCalibration(ts, nil, SaturateZero)
	require.NoError(t, err)
	assert.Equal(t, 2, cal.Points())
	assert.Equal(t, float64(100), cal.LastCounter())
	at, _, _ := cal.At(100)
	assert.True(t, at.Equal(t0.Add(time.Second)))
}

func TestCalibration_SinglePointIsConstant(t *testing.T) {
	cal, err := NewCalibration(calibrationTable(int64(5), t0), nil, SaturateZero)
	require.NoError(t, err)
	at, _, ok := cal.At(500)
	require.True(t, ok)
	assert.True(t, at.Equal(t0))
}
