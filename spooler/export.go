package spooler

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"capture-spooler/capture"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// WriteCSV writes t with a header row. Nulls are empty cells and times are
// RFC 3339 with nanoseconds.
func WriteCSV(w io.Writer, t *capture.Table) error {
	cw := csv.NewWriter(w)
	cols := t.Columns()
	if err := cw.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for r := 0; r < t.Len(); r++ {
		for c, col := range cols {
			record[c] = exportCell(t.Value(col, r))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes tables as {group: {column: {row label: value}}}. Null
// cells are left out.
func WriteJSON(w io.Writer, tables map[string]*capture.Table) error {
	out := make(map[string]map[string]map[string]any, len(tables))
	for group, t := range tables {
		_, labels := t.Index()
		cols := make(map[string]map[string]any, len(t.Columns()))
		for _, col := range t.Columns() {
			cells, _ := t.Column(col)
			m := make(map[string]any, len(cells))
			for i, v := range cells {
				if !jsonValue(v) {
					continue
				}
				m[exportCell(labels[i])] = v
			}
			cols[col] = m
		}
		out[group] = cols
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// jsonValue reports whether v can be encoded as a JSON value.
func jsonValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case float32:
		return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	}
	return true
}

func exportCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// exporter is the resolved export configuration of a runner.
type exporter struct {
	Dir                string
	Format             string
	Groups             []string
	ExcludeColumns     []string
	LimitToCalibration bool
}

// hfQuery builds the HFData query of an export: every column not excluded,
// rows with at least one value, optionally capped at the calibration extent.
func (s exporter) hfQuery(p *capture.Payload) (capture.Query, error) {
	t, err := p.Table(capture.GroupHFData)
	if err != nil {
		return capture.Query{}, err
	}
	exclude := make(map[string]bool, len(s.ExcludeColumns))
	for _, c := range s.ExcludeColumns {
		exclude[c] = true
	}
	q := capture.Query{NotNA: true}
	for _, col := range t.Columns() {
		if !exclude[col] {
			q.Keys = append(q.Keys, col)
		}
	}
	if len(q.Keys) == 0 {
		return capture.Query{}, fmt.Errorf("export: every HFData column is excluded")
	}
	if s.LimitToCalibration {
		q.Limit = capture.LimitToCalibration()
	}
	return q, nil
}

// exportRun writes one run's export next to the other exports, named after
// the run's first file. It returns the written path and the HFData shape.
func (s exporter) exportRun(p *capture.Payload, firstFile string) (string, int, int, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", 0, 0, err
	}
	stem := exportStem(firstFile)
	q, err := s.hfQuery(p)
	if err != nil {
		return "", 0, 0, err
	}
	hf, err := p.Get(capture.GroupHFData, q)
	if err != nil {
		return "", 0, 0, err
	}

	switch s.Format {
	case FormatJSON:
		tables := map[string]*capture.Table{capture.GroupHFData: hf}
		for _, g := range s.Groups {
			if g == capture.GroupHFData {
				continue
			}
			t, err := p.Get(g, capture.Query{})
			if err != nil {
				continue
			}
			tables[g] = t
		}
		path := filepath.Join(s.Dir, stem+".json")
		return path, hf.Len(), len(hf.Columns()), writeFileWith(path, func(w io.Writer) error { return WriteJSON(w, tables) })
	default:
		path := filepath.Join(s.Dir, stem+".csv")
		return path, hf.Len(), len(hf.Columns()), writeFileWith(path, func(w io.Writer) error { return WriteCSV(w, hf) })
	}
}

// exportStem strips recording and compression extensions from a file name.
func exportStem(name string) string {
	name = filepath.Base(name)
	for {
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".json", ".gz", ".zst", ".zip":
			name = strings.TrimSuffix(name, filepath.Ext(name))
		default:
			return name
		}
	}
}

// writeFileWith writes through a temp file in the same directory, renamed
// into place when fn succeeds.
func writeFileWith(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if err := fn(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// infoRow is one line of info.csv.
type infoRow struct {
	RunID     string
	Input     string
	Filename  string
	Files     int
	Rows      int
	Cols      int
	Date      time.Time
	GCodeHash string
	Truncated bool
	Info      map[string]string
}

// writeInfo writes the runs of one cycle sorted by date to info.csv in dir.
// An existing info.csv is kept and the next free info_<n>.csv is used.
func writeInfo(dir string, rows []infoRow, keys []string) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	path := filepath.Join(dir, "info.csv")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("info_%d.csv", i))
	}

	return path, writeFileWith(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		header := []string{"run_id", "input", "filename", "n_files", "n_rows", "n_cols", "date", "gcode_hash", "truncated"}
		header = append(header, keys...)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, r := range rows {
			rec := []string{
				r.RunID, r.Input, r.Filename,
				strconv.Itoa(r.Files), strconv.Itoa(r.Rows), strconv.Itoa(r.Cols),
				exportCell(r.Date), r.GCodeHash, strconv.FormatBool(r.Truncated),
			}
			for _, k := range keys {
				rec = append(rec, r.Info[k])
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// lastValues returns the last non-null value of each LFData key.
func lastValues(p *capture.Payload, keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out
	}
	lf, err := p.Table(capture.GroupLFData)
	if err != nil {
		return out
	}
	for _, k := range keys {
		cells, ok := lf.Column(k)
		if !ok {
			continue
		}
		for i := len(cells) - 1; i >= 0; i-- {
			if cells[i] != nil {
				out[k] = exportCell(cells[i])
				break
			}
		}
	}
	return out
}
