package capture

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MedianPeriodMs returns the median spacing in milliseconds between
// consecutive synchronized times of t. ok is false when fewer than two
// consecutive rows carry a time.
func MedianPeriodMs(t *Table) (float64, bool) {
	times, ok := t.Column(ColumnTime)
	if !ok {
		return 0, false
	}
	var diffs []float64
	for i := 1; i < len(times); i++ {
		prev, ok1 := toTime(times[i-1])
		cur, ok2 := toTime(times[i])
		if !ok1 || !ok2 {
			continue
		}
		diffs = append(diffs, float64(cur.Sub(prev).Nanoseconds())/1e6)
	}
	if len(diffs) == 0 {
		return 0, false
	}
	sort.Float64s(diffs)
	return stat.Quantile(0.5, stat.Empirical, diffs, nil), true
}

// checkCycleTime compares the HFData sampling period against the header's
// declared cycle time.
func checkCycleTime(tables Tables, ti TimeInfo, tolerance float64, w *warner, file string) {
	if tolerance < 0 || ti.CycleTimeMs <= 0 {
		return
	}
	hf, ok := tables[GroupHFData]
	if !ok {
		return
	}
	median, ok := MedianPeriodMs(hf)
	if !ok {
		return
	}
	declared := float64(ti.CycleTimeMs)
	if dev := math.Abs(median-declared) / declared; dev > tolerance {
		w.warn(WarnCycleTime, file, "median HFData period %.3fms deviates %.0f%% from CycleTimeMs %d", median, dev*100, ti.CycleTimeMs)
	}
}
