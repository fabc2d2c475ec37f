package spooler

import (
	"github.com/prometheus/client_golang/prometheus"

	"capture-spooler/capture"
)

// Metrics are the runner's prometheus collectors.
type Metrics struct {
	FilesProcessed prometheus.Counter
	FilesFailed    prometheus.Counter
	FilesSkipped   prometheus.Counter
	RunsStitched   *prometheus.CounterVec
	RowsDecoded    *prometheus.CounterVec
	RowsDropped    *prometheus.CounterVec
	Warnings       *prometheus.CounterVec
	RunSeconds     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_files_processed_total",
			Help: "Recording files decoded and stitched into a run.",
		}),
		FilesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_files_failed_total",
			Help: "Recording files that could not be read, decoded or stitched.",
		}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_files_skipped_total",
			Help: "Recording files skipped because the ledger already holds them.",
		}),
		RunsStitched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_runs_stitched_total",
			Help: "Runs stitched, by input and outcome.",
		}, []string{"input", "outcome"}),
		RowsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_rows_decoded_total",
			Help: "Rows decoded, by payload group.",
		}, []string{"group"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_rows_dropped_total",
			Help: "Malformed rows dropped, by payload group.",
		}, []string{"group"}),
		Warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_warnings_total",
			Help: "Decode, stitch and sync warnings, by kind.",
		}, []string{"kind"}),
		RunSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_run_processing_seconds",
			Help:    "Time to stitch, synchronize, export and record one run.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FilesProcessed, m.FilesFailed, m.FilesSkipped,
			m.RunsStitched, m.RowsDecoded, m.RowsDropped,
			m.Warnings, m.RunSeconds,
		)
	}
	return m
}

func (m *Metrics) observeRun(run *capture.Run) {
	for g, n := range run.Stats.Rows {
		m.RowsDecoded.WithLabelValues(g).Add(float64(n))
	}
	for g, n := range run.Stats.Dropped {
		m.RowsDropped.WithLabelValues(g).Add(float64(n))
	}
	for _, w := range run.Warnings {
		m.Warnings.WithLabelValues(string(w.Kind)).Inc()
	}
}

func runOutcome(run *capture.Run) string {
	switch {
	case run.Truncated:
		return "truncated"
	case run.Broken:
		return "broken"
	default:
		return "complete"
	}
}
