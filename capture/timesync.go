package capture

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// counterColumns names the counter each synchronized group is keyed by.
var counterColumns = []struct {
	Group   string
	Counter string
}{
	{GroupHFData, ColumnCycle},
	{GroupHFCallEvent, ColumnProbeCounter},
	{GroupHFBlockEvent, ColumnProbeCounter},
}

// Calibration maps sample counters to wall-clock time by piecewise linear
// interpolation between HFTimestamp points, extrapolating beyond the ends with
// the slope of the outermost pair.
//
// Times are held as nanosecond offsets from the first calibration sample so
// float64 keeps nanosecond resolution.
type Calibration struct {
	xs     []float64
	ys     []float64
	base   int64
	loc    *time.Location
	pl     *interp.PiecewiseLinear
	policy SaturationPolicy
}

// NewCalibration builds the counter-to-time mapping from an HFTimestamp table.
// A non-nil anchor with a recorded counter is merged in as an extra point
// unless a calibration point already sits at that counter.
func NewCalibration(ts *Table, anchor *TimeInfo, policy SaturationPolicy) (*Calibration, error) {
	counters, ok := ts.Float64s(ColumnProbeCounter)
	if !ok {
		return nil, &KeyError{Group: ts.Name(), Key: ColumnProbeCounter}
	}
	times, ok := ts.Column(ColumnTime)
	if !ok {
		return nil, &KeyError{Group: ts.Name(), Key: ColumnTime}
	}

	c := &Calibration{policy: policy}
	var (
		xs   []float64
		ys   []float64
		seen bool
	)
	for i, x := range counters {
		t, ok := toTime(times[i])
		if !ok || math.IsNaN(x) {
			continue
		}
		if !seen {
			c.base = t.UnixNano()
			c.loc = t.Location()
			seen = true
		}
		xs = append(xs, x)
		ys = append(ys, float64(t.UnixNano()-c.base))
	}
	if !seen {
		return nil, fmt.Errorf("calibration: %s has no usable counter/time pairs", ts.Name())
	}

	inds := make([]int, len(xs))
	floats.ArgsortStable(xs, inds)
	sortedYs := make([]float64, len(ys))
	for i, j := range inds {
		sortedYs[i] = ys[j]
	}
	c.xs, c.ys = dedupeCounters(xs, sortedYs)

	if anchor != nil && anchor.HasCounter() {
		c.merge(float64(anchor.StartCounter), float64(anchor.StartTime.UnixNano()-c.base))
	}

	if len(c.xs) >= 2 {
		c.pl = &interp.PiecewiseLinear{}
		if err := c.pl.Fit(c.xs, c.ys); err != nil {
			return nil, fmt.Errorf("calibration: %w", err)
		}
	}
	return c, nil
}

// dedupeCounters keeps the first point of every run of equal counters.
func dedupeCounters(xs, ys []float64) ([]float64, []float64) {
	outX := xs[:0:0]
	outY := ys[:0:0]
	for i, x := range xs {
		if i > 0 && x == xs[i-1] {
			continue
		}
		outX = append(outX, x)
		outY = append(outY, ys[i])
	}
	return outX, outY
}

func (c *Calibration) merge(x, y float64) {
	i := sort.SearchFloat64s(c.xs, x)
	if i < len(c.xs) && c.xs[i] == x {
		return
	}
	c.xs = append(c.xs, 0)
	c.ys = append(c.ys, 0)
	copy(c.xs[i+1:], c.xs[i:])
	copy(c.ys[i+1:], c.ys[i:])
	c.xs[i] = x
	c.ys[i] = y
}

// Points returns the number of calibration points, anchor included.
func (c *Calibration) Points() int { return len(c.xs) }

// LastCounter returns the largest calibration counter.
func (c *Calibration) LastCounter() float64 { return c.xs[len(c.xs)-1] }

// At maps a counter to wall-clock time. ok is false for NaN counters;
// saturated reports that an extrapolated epoch-zero value was replaced.
func (c *Calibration) At(x float64) (t time.Time, saturated bool, ok bool) {
	if math.IsNaN(x) {
		return time.Time{}, false, false
	}
	n := len(c.xs)
	var (
		y     float64
		below bool
		above bool
	)
	switch {
	case n == 1:
		y = c.ys[0]
	case x < c.xs[0]:
		below = true
		y = c.ys[0] + slope(c.xs[0], c.ys[0], c.xs[1], c.ys[1])*(x-c.xs[0])
	case x > c.xs[n-1]:
		above = true
		y = c.ys[n-1] + slope(c.xs[n-2], c.ys[n-2], c.xs[n-1], c.ys[n-1])*(x-c.xs[n-1])
	default:
		y = c.pl.Predict(x)
	}

	abs := c.base + int64(math.Round(y))
	if abs == 0 && (below || above) && c.policy == SaturateZero {
		if v, found := c.nearestNonZero(above); found {
			abs = v
			saturated = true
		}
	}
	return time.Unix(0, abs).In(c.loc), saturated, true
}

func slope(x0, y0, x1, y1 float64) float64 {
	return (y1 - y0) / (x1 - x0)
}

// nearestNonZero scans the calibration from the end that was extrapolated.
func (c *Calibration) nearestNonZero(fromEnd bool) (int64, bool) {
	n := len(c.ys)
	for k := 0; k < n; k++ {
		i := k
		if fromEnd {
			i = n - 1 - k
		}
		if v := c.base + int64(math.Round(c.ys[i])); v != 0 {
			return v, true
		}
	}
	return 0, false
}

// SyncReport summarizes one synchronization pass.
type SyncReport struct {
	Skipped   bool
	Points    int
	Groups    []string
	Saturated int
}

// Synchronize assigns a Time column to every group keyed by a counter, using
// HFTimestamp as calibration and anchor (when non-nil) as an extra point.
// Without an HFTimestamp table nothing is changed and the report is marked
// Skipped.
func Synchronize(tables Tables, anchor *TimeInfo, policy SaturationPolicy) (SyncReport, error) {
	ts, ok := tables[GroupHFTimestamp]
	if !ok || ts.Len() == 0 {
		return SyncReport{Skipped: true}, nil
	}
	cal, err := NewCalibration(ts, anchor, policy)
	if err != nil {
		return SyncReport{}, err
	}

	rep := SyncReport{Points: cal.Points()}
	for _, target := range counterColumns {
		t, ok := tables[target.Group]
		if !ok {
			continue
		}
		counters, ok := t.Float64s(target.Counter)
		if !ok {
			continue
		}
		vals := make([]any, len(counters))
		for i, x := range counters {
			at, saturated, ok := cal.At(x)
			if !ok {
				continue
			}
			if saturated {
				rep.Saturated++
			}
			vals[i] = at
		}
		if err := t.SetColumn(ColumnTime, vals); err != nil {
			return rep, err
		}
		rep.Groups = append(rep.Groups, target.Group)
	}
	return rep, nil
}
