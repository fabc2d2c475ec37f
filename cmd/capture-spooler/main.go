package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"capture-spooler/capture"
	"capture-spooler/spooler"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var inputGlobs []string
	var dbPath string
	var dbFolder string
	var dbPrefix string
	var debug bool
	var exportDir string
	var exportFormat string
	var errorDir string
	var doneDir string
	var hashAlg string
	var renameHF bool
	var workers int
	var timeout time.Duration
	var once bool
	var pollInterval time.Duration
	var metricsAddr string

	flag.StringVarP(&configPath, "config", "c", "", "YAML config file path.")
	flag.StringArrayVar(&inputGlobs, "input-glob", nil, "Input glob for recording files, optionally as label=glob. Can be repeated; replaces config inputs.")
	flag.StringVar(&dbPath, "db", "captures.db", "SQLite ledger path.")
	flag.StringVar(&dbFolder, "db-folder", "", "Monthly rolling DB folder (overrides config.database.folder).")
	flag.StringVar(&dbPrefix, "db-prefix", "", "Monthly rolling DB prefix (overrides config.database.prefix).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.StringVar(&exportDir, "export-dir", "", "Directory for per-run exports and info.csv (overrides config.export.dir).")
	flag.StringVar(&exportFormat, "export-format", "", "Export format: csv or json (overrides config.export.format).")
	flag.StringVar(&errorDir, "error-dir", "", "Directory for broken recordings of --input-glob inputs.")
	flag.StringVar(&doneDir, "done-dir", "", "Move recordings here once their run is recorded.")
	flag.StringVar(&hashAlg, "hash", "", "G-code hash algorithm: sha256 or blake3.")
	flag.BoolVar(&renameHF, "rename-hf", false, "Name HFData columns <name>|<axis>.")
	flag.IntVar(&workers, "workers", 0, "Concurrent file decoders (0 = GOMAXPROCS).")
	flag.DurationVar(&timeout, "timeout", 0, "Overall timeout for one run (e.g. 30s, 2m).")
	flag.BoolVar(&once, "once", true, "Run once and exit (default true for crontab).")
	flag.DurationVar(&pollInterval, "poll-interval", 30*time.Second, "Polling interval when running with --once=false.")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (overrides config.metrics_addr).")
	flag.Parse()

	// Base config from file (optional)
	fileCfg := &spooler.FileConfig{}
	if configPath != "" {
		cfg, err := spooler.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}
	rc := fileCfg.RunnerConfig()
	if configPath == "" {
		rc.LimitToCalibration = true
		rc.SaturateZero = true
		rc.ExcludeColumns = []string{capture.ColumnCycle, capture.ColumnProbeCounter}
	}

	// CLI overrides
	changed := flag.CommandLine.Changed
	if changed("db") || (rc.DBPath == "" && rc.DBFolder == "") {
		rc.DBPath = dbPath
	}
	if changed("db-folder") {
		rc.DBFolder = dbFolder
	}
	if changed("db-prefix") {
		rc.DBPrefix = dbPrefix
	}
	if changed("debug") {
		rc.Debug = debug
	}
	if changed("export-dir") {
		rc.ExportDir = exportDir
	}
	if changed("export-format") {
		rc.ExportFormat = strings.ToLower(exportFormat)
	}
	if changed("done-dir") {
		rc.DoneDir = doneDir
	}
	if changed("hash") {
		alg, err := capture.ParseHashAlgorithm(hashAlg)
		if err != nil {
			log.Fatalf("--hash: %v", err)
		}
		rc.HashAlgorithm = alg
	}
	if changed("rename-hf") {
		rc.RenameHF = renameHF
	}
	if changed("workers") {
		rc.Workers = workers
	}
	if changed("input-glob") {
		rc.Inputs = parseInputGlobs(inputGlobs, errorDir)
	}
	if !changed("metrics-addr") {
		metricsAddr = fileCfg.MetricsAddr
	}
	rc.Timeout = timeout
	rc.Registerer = prometheus.DefaultRegisterer

	if len(rc.Inputs) == 0 {
		fmt.Fprintln(os.Stderr, "missing inputs (use config.yaml inputs or --input-glob)")
		os.Exit(2)
	}

	runner, err := spooler.NewRunner(rc)
	if err != nil {
		log.Fatalf("init runner: %v", err)
	}
	defer runner.Close()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	if once {
		if err := runner.RunOnce(); err != nil {
			log.Fatalf("run once: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	for {
		if err := runner.RunOnce(); err != nil {
			log.Printf("run once error: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			return
		case <-time.After(pollInterval):
		}
	}
}

// parseInputGlobs turns "label=glob" or bare "glob" flags into inputs.
func parseInputGlobs(globs []string, errorDir string) []spooler.InputSpec {
	out := make([]spooler.InputSpec, 0, len(globs))
	for i, g := range globs {
		label, glob, ok := strings.Cut(g, "=")
		if !ok {
			label, glob = fmt.Sprintf("input%d", i+1), g
		}
		glob = strings.TrimSpace(glob)
		if glob == "" {
			continue
		}
		out = append(out, spooler.InputSpec{Label: strings.TrimSpace(label), Glob: glob, ErrorDir: errorDir})
	}
	return out
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server: %v", err)
	}
}
