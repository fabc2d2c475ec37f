package capture

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Run is one continuous recording stitched from a chain of files.
type Run struct {
	// Files lists the visited files in run order.
	Files []string
	// Header and Time come from the first visited file.
	Header *Header
	Time   TimeInfo
	Tables Tables
	Stats  DecodeStats
	Sync   SyncReport

	Broken    bool
	Truncated bool
	Unvisited []string
	Warnings  []Warning

	w *warner
}

// Payload exposes the run's tables through the query layer.
func (r *Run) Payload() *Payload {
	return NewPayload(r.Tables, r.Header)
}

// Stitch orders recordings along their footer chains and concatenates each
// group's rows in visitation order. Tables are not synchronized.
func Stitch(recs []*Recording, opts Options) (*Run, error) {
	w := &warner{fn: opts.Warn}
	for _, rec := range recs {
		w.seen = append(w.seen, rec.Warnings...)
	}

	byName := make(map[string]*Recording, len(recs))
	infos := make([]ChainInfo, 0, len(recs))
	for _, rec := range recs {
		if _, dup := byName[rec.Chain.Actual]; !dup {
			byName[rec.Chain.Actual] = rec
		}
		infos = append(infos, rec.Chain)
	}

	order, outcome, err := traverse(infos, w)
	if err != nil {
		return nil, err
	}

	run := &Run{
		Files:     order,
		Tables:    make(Tables),
		Stats:     newDecodeStats(),
		Broken:    outcome.Broken,
		Truncated: outcome.Truncated,
		Unvisited: outcome.Unvisited,
		w:         w,
	}
	for i, name := range order {
		rec := byName[name]
		if i == 0 {
			run.Header = rec.Header
			run.Time = rec.Header.Time
		}
		for _, group := range rec.Tables.Names() {
			t := rec.Tables[group]
			if acc, ok := run.Tables[group]; ok {
				acc.Append(t)
			} else {
				run.Tables[group] = t.Clone()
			}
		}
		run.Stats.Messages += rec.Stats.Messages
		for g, n := range rec.Stats.Rows {
			run.Stats.Rows[g] += n
		}
		for g, n := range rec.Stats.Dropped {
			run.Stats.Dropped[g] += n
		}
	}
	run.Warnings = w.seen
	return run, nil
}

// Synchronize assigns wall-clock times to the run's counter-keyed groups using
// the first file's time anchor.
func (r *Run) Synchronize(opts Options) error {
	anchor := r.Time
	rep, err := Synchronize(r.Tables, &anchor, opts.Saturation)
	if err != nil {
		return err
	}
	r.Sync = rep
	if !rep.Skipped {
		checkCycleTime(r.Tables, anchor, opts.cycleTolerance(), r.w, r.Files[0])
	}
	r.Warnings = r.w.seen
	return nil
}

// DecodeAll decodes sources concurrently. Results keep the order of srcs.
func DecodeAll(srcs []Source, opts Options) ([]*Recording, error) {
	if opts.Warn != nil {
		var mu sync.Mutex
		fn := opts.Warn
		opts.Warn = func(w Warning) {
			mu.Lock()
			defer mu.Unlock()
			fn(w)
		}
	}

	recs := make([]*Recording, len(srcs))
	var g errgroup.Group
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			rec, err := DecodeRecording(src, opts)
			if err != nil {
				return err
			}
			recs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ParseRun reads every path, decodes the files concurrently, stitches them
// into one run and synchronizes it unless opts.SkipSync is set.
func ParseRun(paths []string, opts Options) (*Run, error) {
	var srcs []Source
	for _, p := range paths {
		ss, err := ReadSources(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		srcs = append(srcs, ss...)
	}
	recs, err := DecodeAll(srcs, opts)
	if err != nil {
		return nil, err
	}
	run, err := Stitch(recs, opts)
	if err != nil {
		return nil, err
	}
	if !opts.SkipSync {
		if err := run.Synchronize(opts); err != nil {
			return nil, err
		}
	}
	return run, nil
}
