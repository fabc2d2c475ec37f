package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	"capture-spooler/capture"
	"capture-spooler/spooler"
)

func main() {
	log.SetFlags(0)

	var dbPath string
	var limit int
	var renameHF bool
	var skipSync bool
	var hashAlg string
	var showSignals bool
	var quiet bool

	flag.StringVar(&dbPath, "db", "", "List the latest runs recorded in this ledger instead of parsing files.")
	flag.IntVar(&limit, "limit", 20, "Number of runs listed with --db.")
	flag.BoolVar(&renameHF, "rename-hf", false, "Name HFData columns <name>|<axis>.")
	flag.BoolVar(&skipSync, "skip-sync", false, "Do not synchronize tables to wall-clock time.")
	flag.StringVar(&hashAlg, "hash", "sha256", "G-code hash algorithm: sha256 or blake3.")
	flag.BoolVar(&showSignals, "signals", false, "Print signals grouped by name head.")
	flag.BoolVarP(&quiet, "quiet", "q", false, "Do not print decode warnings.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] recording.json [more files of the same run...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if dbPath != "" {
		if err := listRuns(dbPath, limit); err != nil {
			log.Fatalf("list runs: %v", err)
		}
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	alg, err := capture.ParseHashAlgorithm(hashAlg)
	if err != nil {
		log.Fatalf("--hash: %v", err)
	}
	opts := capture.Options{RenameHF: renameHF, SkipSync: skipSync, Saturation: capture.SaturateZero}
	if quiet {
		opts.Warn = func(capture.Warning) {}
	} else {
		opts.Warn = func(w capture.Warning) { fmt.Fprintf(os.Stderr, "warning: %s\n", w) }
	}

	run, err := capture.ParseRun(flag.Args(), opts)
	if err != nil {
		log.Fatalf("parse: %v", err)
	}
	printRun(run, alg, showSignals)
}

func printRun(run *capture.Run, alg capture.HashAlgorithm, showSignals bool) {
	p := run.Payload()
	if h := run.Header; h != nil {
		fmt.Printf("machine:   %s (%s)\n", h.Machine.Name, h.Machine.CFCard)
		fmt.Printf("recorder:  %s, format %s\n", h.Version.Recorder, h.Version.OutputFileFormat)
	}
	fmt.Printf("start:     %s\n", run.Time.StartTime.Format("2006-01-02 15:04:05.000 Z07:00"))
	fmt.Printf("files:     %s\n", strings.Join(run.Files, " -> "))
	if run.Truncated {
		fmt.Println("chain:     truncated")
	}
	if run.Broken {
		fmt.Println("chain:     broken start")
	}
	if len(run.Unvisited) > 0 {
		fmt.Printf("unvisited: %s\n", strings.Join(run.Unvisited, ", "))
	}
	if run.Sync.Skipped {
		fmt.Println("sync:      skipped")
	} else {
		fmt.Printf("sync:      %d calibration points, %d saturated\n", run.Sync.Points, run.Sync.Saturated)
	}
	if hash, err := p.HashGCode(alg); err == nil {
		fmt.Printf("gcode:     %s %s\n", alg, hash)
	}
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tROWS\tCOLUMNS\tDROPPED")
	for _, g := range p.Groups() {
		t, err := p.Table(g)
		if err != nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", g, t.Len(), len(t.Columns()), run.Stats.Dropped[g])
	}
	_ = tw.Flush()

	if !showSignals {
		return
	}
	gs := p.GroupSignals()
	groups := make([]string, 0, len(gs))
	for g := range gs {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		fmt.Printf("\n%s\n", g)
		for _, head := range capture.Heads(gs[g]) {
			fmt.Printf("  %s: %s\n", head, strings.Join(gs[g][head], ", "))
		}
	}
}

func listRuns(path string, limit int) error {
	db, err := spooler.OpenQueryDB(path)
	if err != nil {
		return err
	}
	runs, err := spooler.RecentRuns(db, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tINPUT\tMACHINE\tSTART\tFILES\tHF ROWS\tOUTCOME\tEXPORT")
	for _, r := range runs {
		outcome := "complete"
		switch {
		case r.Truncated:
			outcome = "truncated"
		case r.Broken:
			outcome = "broken"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.RunID, r.Input, r.Machine, r.StartTime.Format("2006-01-02 15:04:05"),
			r.FileCount, r.HFRows, outcome, r.ExportPath)
	}
	return tw.Flush()
}
