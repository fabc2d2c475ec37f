package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// recordingFixture builds the JSON of one recording file.
type recordingFixture struct {
	name string
	prev string
	next string

	start        time.Time
	startCounter *int64
	cycleMs      int64

	hfCatalog  []map[string]any
	lfCatalog  []map[string]any
	extCatalog []map[string]any
	messages   []map[string]any
}

func newFixture(name, prev, next string) *recordingFixture {
	return &recordingFixture{
		name:  name,
		prev:  prev,
		next:  next,
		start: t0,
		hfCatalog: []map[string]any{
			{"Name": "CYCLE", "Type": "INTEGER", "Axis": "Cycle", "Address": "CYCLE"},
			{"Name": "X", "Type": "FLOAT", "Axis": "X1", "Address": "X|1"},
		},
		lfCatalog: []map[string]any{
			{"id": 1, "path": "/Channel/State/actToolIdent", "device": "nck", "label": "tool", "samplingPeriod": 10},
		},
	}
}

func (f *recordingFixture) hf(rows ...[]any) *recordingFixture {
	f.messages = append(f.messages, map[string]any{GroupHFData: rows})
	return f
}

func (f *recordingFixture) stamp(counter int64, at time.Time) *recordingFixture {
	f.messages = append(f.messages, map[string]any{
		GroupHFTimestamp: map[string]any{ColumnProbeCounter: counter, ColumnTime: at.Format(time.RFC3339Nano)},
	})
	return f
}

func (f *recordingFixture) message(m map[string]any) *recordingFixture {
	f.messages = append(f.messages, m)
	return f
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (f *recordingFixture) bytes(t *testing.T) []byte {
	t.Helper()
	initial := map[string]any{"Time": f.start.Format(time.RFC3339Nano)}
	if f.startCounter != nil {
		initial[ColumnProbeCounter] = *f.startCounter
	}
	header := map[string]any{
		"Version":     map[string]any{"outputFileFormatVersion": "2.0", "RecorderVersion": "4.1"},
		"MachineInfo": map[string]any{"MachineName": "DMU50", "CFCard": "CF-0001"},
		"JobDescription": []string{
			`"TriggersOn":{"activeTool":"6"}`,
			`"TriggersOff":{"activeTool":"7"}`,
		},
		"Initial":          initial,
		"SignalListHFData": f.hfCatalog,
		"SignalListLFData": f.lfCatalog,
	}
	if f.extCatalog != nil {
		header["SignalListExternalData"] = f.extCatalog
	}
	if f.cycleMs > 0 {
		header["CycleTimeMs"] = f.cycleMs
	}
	messages := f.messages
	if messages == nil {
		messages = []map[string]any{}
	}
	doc := map[string]any{
		"Header":  header,
		"Payload": messages,
		"Footer": map[string]any{
			"FilePathChain": map[string]any{
				"Previous": nullable(f.prev),
				"Actual":   f.name,
				"Next":     nullable(f.next),
			},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (f *recordingFixture) source(t *testing.T) Source {
	return Source{Name: f.name, Path: f.name, Data: f.bytes(t)}
}

func (f *recordingFixture) write(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, f.name)
	if err := os.WriteFile(p, f.bytes(t), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// collect returns an Options.Warn callback and the slice it fills.
func collect() (func(Warning), *[]Warning) {
	var got []Warning
	return func(w Warning) { got = append(got, w) }, &got
}

func kinds(ws []Warning) []WarningKind {
	out := make([]WarningKind, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Kind)
	}
	return out
}
