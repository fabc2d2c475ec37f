package capture

import (
	"fmt"
	"log"
)

// WarningKind classifies recoverable anomalies.
type WarningKind string

const (
	WarnExperimentalGroup WarningKind = "experimental_group"
	WarnDroppedRows       WarningKind = "dropped_rows"
	WarnChainBroken       WarningKind = "chain_broken"
	WarnChainTruncated    WarningKind = "chain_truncated"
	WarnChainCycle        WarningKind = "chain_cycle"
	WarnUnvisitedFile     WarningKind = "unvisited_file"
	WarnCycleTime         WarningKind = "cycle_time"
)

type Warning struct {
	Kind    WarningKind
	File    string
	Message string
}

func (w Warning) String() string {
	if w.File == "" {
		return fmt.Sprintf("[%s] %s", w.Kind, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Kind, w.File, w.Message)
}

// warner fans a warning out to the configured callback and keeps a copy so
// callers can inspect what was raised for a file or run.
type warner struct {
	fn   func(Warning)
	seen []Warning
}

func (w *warner) warn(kind WarningKind, file string, format string, args ...any) {
	wr := Warning{Kind: kind, File: file, Message: fmt.Sprintf(format, args...)}
	w.seen = append(w.seen, wr)
	if w.fn != nil {
		w.fn(wr)
		return
	}
	log.Printf("warning: %s", wr)
}
