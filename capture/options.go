package capture

// SaturationPolicy controls what happens when extrapolation yields an
// epoch-zero timestamp.
type SaturationPolicy int

const (
	// SaturateZero replaces an extrapolated value of exactly zero with the
	// nearest non-zero calibration value.
	SaturateZero SaturationPolicy = iota
	// SaturateOff keeps extrapolated zeros.
	SaturateOff
)

// Options configures decoding, synchronization and stitching.
type Options struct {
	// RenameHF names HF columns "<name head>|<axis>" for machine-axis signals.
	RenameHF bool

	// Groups restricts decoding to the listed groups. Keys outside the list
	// are skipped before they are recognized.
	Groups []string

	// SkipSync leaves tables with their native counters only.
	SkipSync bool

	Saturation SaturationPolicy

	// Flatten limits how nested event records are spread into columns.
	Flatten FlattenOptions

	// CycleTimeTolerance is the relative deviation of the median HFData period
	// from the header's CycleTimeMs that raises a warning. Zero means 0.5;
	// negative disables the check.
	CycleTimeTolerance float64

	// Workers bounds concurrent file decoding in ParseRun. Zero means one
	// worker per file.
	Workers int

	// Warn receives every warning. When nil, warnings are logged.
	Warn func(Warning)
}

func (o Options) wants(group string) bool {
	if len(o.Groups) == 0 {
		return true
	}
	for _, g := range o.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (o Options) cycleTolerance() float64 {
	if o.CycleTimeTolerance == 0 {
		return 0.5
	}
	return o.CycleTimeTolerance
}
