package spooler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"capture-spooler/capture"
)

type RunnerConfig struct {
	// Single DB path. If DBFolder is set, DBPath is ignored.
	DBPath string
	// Monthly rolling DB settings.
	DBFolder string
	DBPrefix string
	Debug    bool

	Inputs []InputSpec

	// ExportDir receives one export per run plus info.csv. Empty disables
	// exporting.
	ExportDir          string
	ExportFormat       string
	ExportGroups       []string
	ExcludeColumns     []string
	LimitToCalibration bool
	InfoKeys           []string

	RenameHF      bool
	HashAlgorithm capture.HashAlgorithm
	SaturateZero  bool
	// Workers bounds concurrent file decoding. Zero means GOMAXPROCS.
	Workers int
	// DoneDir receives files once their run is recorded. Empty leaves them
	// in place.
	DoneDir string
	Timeout time.Duration

	// Registerer receives the runner metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

type InputSpec struct {
	Label    string
	Glob     string
	ErrorDir string
}

type Runner struct {
	cfg     RunnerConfig
	db      *gorm.DB
	dbKey   string
	export  exporter
	opts    capture.Options
	metrics *Metrics
	last    runStats
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	log.Printf(format, args...)
}

type runStats struct {
	FilesSeen      int
	FilesSkipped   int
	FilesProcessed int
	FilesFailed    int
	FilesMoved     int
	Runs           int
	RunsTruncated  int
	Exports        []string
	InfoPath       string
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.DBFolder) == "" && strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("DBPath or DBFolder is required")
	}
	if len(cfg.Inputs) == 0 {
		return nil, fmt.Errorf("Inputs is required")
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = capture.HashSHA256
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = FormatCSV
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	saturation := capture.SaturateOff
	if cfg.SaturateZero {
		saturation = capture.SaturateZero
	}
	r := &Runner{
		cfg: cfg,
		export: exporter{
			Dir:                cfg.ExportDir,
			Format:             cfg.ExportFormat,
			Groups:             cfg.ExportGroups,
			ExcludeColumns:     cfg.ExcludeColumns,
			LimitToCalibration: cfg.LimitToCalibration,
		},
		opts: capture.Options{
			RenameHF:   cfg.RenameHF,
			Saturation: saturation,
			Workers:    1,
		},
		metrics: NewMetrics(cfg.Registerer),
	}
	if err := r.ensureDBForNow(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	r.dbKey = ""
	return err
}

// Metrics returns the runner's collectors.
func (r *Runner) Metrics() *Metrics { return r.metrics }

// RunOnce processes every new recording file of every input: decode, split
// into runs, stitch, synchronize, export and record. Broken files are moved
// to their input's error directory; a failure of one file or run does not
// stop the others.
func (r *Runner) RunOnce() error {
	start := time.Now()
	stats := &runStats{}
	defer func() { r.last = *stats }()
	deadline := time.Time{}
	if r.cfg.Timeout > 0 {
		deadline = start.Add(r.cfg.Timeout)
	}

	if err := r.ensureDBForNow(); err != nil {
		return err
	}
	r.debugf("run_once start: dbFolder=%q dbPrefix=%q inputs=%d exportDir=%q workers=%d", r.cfg.DBFolder, r.cfg.DBPrefix, len(r.cfg.Inputs), r.cfg.ExportDir, r.cfg.Workers)

	items, err := r.expandInputs(r.cfg.Inputs)
	if err != nil {
		return err
	}

	cyc := newCycle()
	var info []infoRow
	for _, in := range r.cfg.Inputs {
		if isDeadlineExceeded(deadline) {
			return fmt.Errorf("timeout exceeded")
		}
		var files []*pendingFile
		for _, it := range items {
			if it.Input != in.Label {
				continue
			}
			pf, err := r.stageFile(it, stats)
			if err != nil {
				r.debugf("stage failed path=%q err=%v", it.Path, err)
				continue
			}
			if pf != nil {
				files = append(files, pf)
			}
		}
		if len(files) == 0 {
			continue
		}

		r.decodeFiles(files)
		owner := make(map[*capture.Recording]*pendingFile)
		var recs []*capture.Recording
		for _, pf := range files {
			if pf.err != nil {
				r.failFiles([]*pendingFile{pf}, pf.err, stats, cyc)
				continue
			}
			for _, rec := range pf.recs {
				owner[rec] = pf
				recs = append(recs, rec)
			}
		}

		for _, set := range capture.SplitRuns(recs) {
			if isDeadlineExceeded(deadline) {
				return fmt.Errorf("timeout exceeded")
			}
			row, err := r.processRun(in.Label, set, owner, stats, cyc)
			if err != nil {
				log.Printf("run failed input=%q files=%d err=%v", in.Label, len(set), err)
				continue
			}
			info = append(info, row)
		}
	}

	if r.cfg.ExportDir != "" {
		p, err := writeInfo(r.cfg.ExportDir, info, r.cfg.InfoKeys)
		if err != nil {
			return fmt.Errorf("write info: %w", err)
		}
		stats.InfoPath = p
	}
	r.debugf("run_once done: seen=%d skipped=%d processed=%d failed=%d runs=%d truncated=%d elapsed=%s", stats.FilesSeen, stats.FilesSkipped, stats.FilesProcessed, stats.FilesFailed, stats.Runs, stats.RunsTruncated, time.Since(start))
	return nil
}

func isDeadlineExceeded(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// pendingFile is an input file selected for this cycle.
type pendingFile struct {
	Path     string
	Input    string
	ErrorDir string
	SHA256   string
	Info     fs.FileInfo

	recs []*capture.Recording
	err  error
}

// cycle tracks what one RunOnce already did to files shared by several runs
// (zip archives holding more than one run).
type cycle struct {
	recorded map[string]bool
	moved    map[string]string
}

func newCycle() *cycle {
	return &cycle{recorded: make(map[string]bool), moved: make(map[string]string)}
}

func (r *Runner) stageFile(it inputItem, stats *runStats) (*pendingFile, error) {
	info, err := os.Stat(it.Path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, nil
	}
	stats.FilesSeen++
	sum, err := fileSHA256(it.Path)
	if err != nil {
		return nil, err
	}
	done, err := r.isAlreadyProcessed(it.Path, sum)
	if err != nil {
		return nil, err
	}
	if done {
		stats.FilesSkipped++
		r.metrics.FilesSkipped.Inc()
		r.debugf("skip processed path=%q", it.Path)
		return nil, nil
	}
	pf := &pendingFile{Path: it.Path, Input: it.Input, ErrorDir: it.ErrorDir, SHA256: sum, Info: info}
	if info.Size() == 0 {
		pf.err = fmt.Errorf("empty file")
	}
	return pf, nil
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// decodeFiles reads and decodes files concurrently. Each file keeps its own
// result; one broken file does not cancel the others.
func (r *Runner) decodeFiles(files []*pendingFile) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for _, pf := range files {
		pf := pf
		if pf.err != nil {
			continue
		}
		g.Go(func() error {
			srcs, err := capture.ReadSources(pf.Path)
			if err == nil && len(srcs) == 0 {
				err = fmt.Errorf("no recordings in %s", pf.Path)
			}
			if err != nil {
				pf.err = err
				return nil
			}
			pf.recs, pf.err = capture.DecodeAll(srcs, r.opts)
			r.debugf("decoded path=%q recordings=%d err=%v", pf.Path, len(pf.recs), pf.err)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) processRun(input string, set []*capture.Recording, owner map[*capture.Recording]*pendingFile, stats *runStats, cyc *cycle) (infoRow, error) {
	start := time.Now()
	files := filesOf(set, owner)

	run, err := capture.Stitch(set, r.opts)
	if err == nil {
		err = run.Synchronize(r.opts)
	}
	if err != nil {
		r.metrics.RunsStitched.WithLabelValues(input, "failed").Inc()
		r.failFiles(files, err, stats, cyc)
		return infoRow{}, err
	}

	runID := uuid.NewString()
	payload := run.Payload()
	row := infoRow{
		RunID:     runID,
		Input:     input,
		Filename:  run.Files[0],
		Files:     len(run.Files),
		Date:      run.Time.StartTime,
		Truncated: run.Truncated,
		Info:      lastValues(payload, r.cfg.InfoKeys),
	}
	if hash, err := payload.HashGCode(r.cfg.HashAlgorithm); err == nil {
		row.GCodeHash = hash
	}

	var exportPath string
	if r.cfg.ExportDir != "" && run.Tables[capture.GroupHFData] != nil {
		exportPath, row.Rows, row.Cols, err = r.export.exportRun(payload, run.Files[0])
		if err != nil {
			return infoRow{}, fmt.Errorf("export %s: %w", run.Files[0], err)
		}
		stats.Exports = append(stats.Exports, exportPath)
	}

	cr := CaptureRun{
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
		Input:      input,
		StartTime:  run.Time.StartTime.UTC(),
		FirstFile:  run.Files[0],
		FileCount:  len(run.Files),
		FilesJSON:  mustJSON(run.Files),
		RowsJSON:   mustJSON(run.Stats.Rows),
		HFRows:     run.Stats.Rows[capture.GroupHFData],
		Dropped:    run.Stats.DroppedTotal(),
		Saturated:  run.Sync.Saturated,
		Synced:     !run.Sync.Skipped,
		Truncated:  run.Truncated,
		Broken:     run.Broken,
		Warnings:   len(run.Warnings),
		WarnJSON:   mustJSON(warningStrings(run.Warnings)),
		GCodeHash:  row.GCodeHash,
		ExportPath: exportPath,
	}
	if run.Header != nil {
		cr.Machine = run.Header.Machine.Name
	}

	unvisited := make(map[string]bool, len(run.Unvisited))
	for _, name := range run.Unvisited {
		unvisited[name] = true
	}
	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cr).Error; err != nil {
			return err
		}
		for _, pf := range files {
			if cyc.recorded[pf.Path] {
				continue
			}
			rec := ProcessedFile{
				Path:        pf.Path,
				SHA256:      pf.SHA256,
				Input:       pf.Input,
				SizeBytes:   pf.Info.Size(),
				ModUnixNano: pf.Info.ModTime().UnixNano(),
				ProcessedAt: time.Now().UTC(),
				RunID:       runID,
			}
			for _, rr := range pf.recs {
				if unvisited[rr.Chain.Actual] {
					rec.LastError = fmt.Sprintf("%s not reachable from run start %s", rr.Chain.Actual, run.Files[0])
				}
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.debugf("db transaction failed run=%s err=%v", runID, err)
		return infoRow{}, err
	}
	for _, pf := range files {
		if !cyc.recorded[pf.Path] {
			cyc.recorded[pf.Path] = true
			stats.FilesProcessed++
			r.metrics.FilesProcessed.Inc()
		}
	}

	if r.cfg.DoneDir != "" {
		r.moveFiles(files, r.cfg.DoneDir, stats, cyc)
	}

	stats.Runs++
	if run.Truncated {
		stats.RunsTruncated++
	}
	r.metrics.RunsStitched.WithLabelValues(input, runOutcome(run)).Inc()
	r.metrics.observeRun(run)
	r.metrics.RunSeconds.Observe(time.Since(start).Seconds())
	r.debugf("run recorded id=%s input=%q files=%v truncated=%v export=%q", runID, input, run.Files, run.Truncated, exportPath)
	return row, nil
}

// filesOf returns the distinct input files a set of recordings came from, in
// first-seen order.
func filesOf(set []*capture.Recording, owner map[*capture.Recording]*pendingFile) []*pendingFile {
	seen := make(map[*pendingFile]bool)
	var out []*pendingFile
	for _, rec := range set {
		pf := owner[rec]
		if pf == nil || seen[pf] {
			continue
		}
		seen[pf] = true
		out = append(out, pf)
	}
	return out
}

// failFiles records files as failed and moves them to their error directory.
func (r *Runner) failFiles(files []*pendingFile, cause error, stats *runStats, cyc *cycle) {
	for _, pf := range files {
		if cyc.recorded[pf.Path] {
			continue
		}
		log.Printf("recording failed path=%q err=%v", pf.Path, cause)
		rec := ProcessedFile{
			Path:        pf.Path,
			SHA256:      pf.SHA256,
			Input:       pf.Input,
			SizeBytes:   pf.Info.Size(),
			ModUnixNano: pf.Info.ModTime().UnixNano(),
			ProcessedAt: time.Now().UTC(),
			Failed:      true,
			LastError:   cause.Error(),
		}
		if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
			r.debugf("db insert failed path=%q err=%v", pf.Path, err)
			continue
		}
		cyc.recorded[pf.Path] = true
		stats.FilesFailed++
		r.metrics.FilesFailed.Inc()
		if strings.TrimSpace(pf.ErrorDir) != "" {
			r.moveFiles([]*pendingFile{pf}, pf.ErrorDir, stats, cyc)
		}
	}
}

func (r *Runner) moveFiles(files []*pendingFile, dir string, stats *runStats, cyc *cycle) {
	var paths []string
	for _, pf := range files {
		if _, done := cyc.moved[pf.Path]; !done {
			paths = append(paths, pf.Path)
		}
	}
	if len(paths) == 0 {
		return
	}
	moved, err := MoveFilesToDir(paths, dir)
	if err != nil {
		log.Printf("move to %s: %v", dir, err)
	}
	for _, pf := range files {
		dst, ok := moved[pf.Path]
		if !ok {
			continue
		}
		cyc.moved[pf.Path] = dst
		stats.FilesMoved++
		if err := r.db.Model(&ProcessedFile{}).
			Where("path = ? AND sha256 = ?", pf.Path, pf.SHA256).
			Update("moved_to", dst).Error; err != nil {
			r.debugf("db update failed path=%q err=%v", pf.Path, err)
		}
		r.debugf("moved path=%q to=%q", pf.Path, dst)
	}
}

func (r *Runner) isAlreadyProcessed(path string, sha string) (bool, error) {
	var pf ProcessedFile
	err := r.db.Where("path = ? AND sha256 = ?", path, sha).First(&pf).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (r *Runner) ensureDBForNow() error {
	if strings.TrimSpace(r.cfg.DBFolder) == "" {
		if r.db != nil {
			return nil
		}
		db, err := OpenDB(r.cfg.DBPath)
		if err != nil {
			return err
		}
		r.db = db
		r.dbKey = "static"
		return nil
	}

	now := time.Now()
	key := fmt.Sprintf("%04d%02d", now.Year(), int(now.Month()))
	if r.db != nil && r.dbKey == key {
		return nil
	}
	// one ledger per calendar month
	_ = r.Close()
	if strings.TrimSpace(r.cfg.DBPrefix) == "" {
		r.cfg.DBPrefix = "captures_"
	}
	if err := os.MkdirAll(r.cfg.DBFolder, 0o755); err != nil {
		return err
	}
	db, err := OpenDB(filepath.Join(r.cfg.DBFolder, r.cfg.DBPrefix+key+".db"))
	if err != nil {
		return err
	}
	r.db = db
	r.dbKey = key
	return nil
}

type inputItem struct {
	Path     string
	Input    string
	ErrorDir string
}

func (r *Runner) expandInputs(inputs []InputSpec) ([]inputItem, error) {
	seen := make(map[string]struct{})
	var out []inputItem
	for _, in := range inputs {
		if strings.TrimSpace(in.Glob) == "" {
			continue
		}
		matches, err := expandGlobWithDoubleStar(in.Glob)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Label, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, inputItem{Path: m, Input: in.Label, ErrorDir: in.ErrorDir})
		}
	}
	return out, nil
}

// expandGlobWithDoubleStar extends filepath.Glob with one "**" segment
// matching any number of directories: the part after "**" is matched against
// the trailing path segments of every file below the prefix.
func expandGlobWithDoubleStar(pattern string) ([]string, error) {
	before, after, ok := strings.Cut(pattern, "**")
	if !ok {
		return filepath.Glob(pattern)
	}
	root := strings.TrimRight(before, `/\`)
	if root == "" {
		root = "."
	}
	root = filepath.Clean(root)
	rest := filepath.ToSlash(strings.TrimLeft(after, `/\`))
	if rest == "" {
		rest = "*"
	}

	var matches []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		ok, err := matchTail(rest, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// matchTail matches pattern against rel with any number of leading
// directories dropped.
func matchTail(pattern, rel string) (bool, error) {
	for {
		ok, err := path.Match(pattern, rel)
		if err != nil || ok {
			return ok, err
		}
		_, tail, found := strings.Cut(rel, "/")
		if !found {
			return false, nil
		}
		rel = tail
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func warningStrings(ws []capture.Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.String())
	}
	return out
}
