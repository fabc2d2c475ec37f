package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// ChainInfo links a recording file to its neighbours of the same run. Empty
// Previous or Next means the file opens or closes the run.
type ChainInfo struct {
	Previous string
	Actual   string
	Next     string
}

// Recording is one decoded file: header, chain pointers and raw tables
// (not yet synchronized).
type Recording struct {
	Source   string
	Header   *Header
	Chain    ChainInfo
	Tables   Tables
	Stats    DecodeStats
	Warnings []Warning
}

type rawRecording struct {
	Header  json.RawMessage  `json:"Header"`
	Payload []map[string]any `json:"Payload"`
	Footer  struct {
		FilePathChain struct {
			Previous *string `json:"Previous"`
			Actual   *string `json:"Actual"`
			Next     *string `json:"Next"`
		} `json:"FilePathChain"`
	} `json:"Footer"`
}

// DecodeRecording decodes header, payload and footer of one source.
func DecodeRecording(src Source, opts Options) (*Recording, error) {
	w := &warner{fn: opts.Warn}

	dec := json.NewDecoder(bytes.NewReader(src.Data))
	dec.UseNumber()
	var raw rawRecording
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name, err)
	}
	if len(raw.Header) == 0 {
		return nil, fmt.Errorf("%s: missing Header", src.Name)
	}

	head, err := DecodeHeader(raw.Header, w, src.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name, err)
	}
	tables, stats, err := DecodePayload(raw.Payload, head.Signals, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Name, err)
	}
	if n := stats.DroppedTotal(); n > 0 {
		w.warn(WarnDroppedRows, src.Name, "dropped %d malformed rows %v", n, stats.Dropped)
	}

	fc := raw.Footer.FilePathChain
	chain := ChainInfo{
		Previous: chainName(fc.Previous),
		Actual:   chainName(fc.Actual),
		Next:     chainName(fc.Next),
	}
	if chain.Actual == "" {
		chain.Actual = src.Name
	}

	return &Recording{
		Source:   src.Name,
		Header:   head,
		Chain:    chain,
		Tables:   tables,
		Stats:    stats,
		Warnings: w.seen,
	}, nil
}

// chainName reduces a footer pointer to a base file name; pointers may carry
// device-side directories.
func chainName(p *string) string {
	if p == nil {
		return ""
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(s, `\`, "/"))
}

// Parse decodes a single recording file and synchronizes its tables with the
// file's own time anchor.
func Parse(p string, opts Options) (*Payload, error) {
	srcs, err := ReadSources(p)
	if err != nil {
		return nil, err
	}
	if len(srcs) != 1 {
		return nil, fmt.Errorf("%s: expected one recording, found %d", p, len(srcs))
	}
	rec, err := DecodeRecording(srcs[0], opts)
	if err != nil {
		return nil, err
	}
	w := &warner{fn: opts.Warn, seen: rec.Warnings}
	if !opts.SkipSync {
		anchor := rec.Header.Time
		if _, err := Synchronize(rec.Tables, &anchor, opts.Saturation); err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Source, err)
		}
		checkCycleTime(rec.Tables, anchor, opts.cycleTolerance(), w, rec.Source)
	}
	return NewPayload(rec.Tables, rec.Header), nil
}
