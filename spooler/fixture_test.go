package spooler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capture-spooler/capture"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

const toolAddress = "/Channel/State/actToolIdent"

// writeRecording writes one recording file with HFData rows at the given
// cycles (100 counts per second from t0) and a calibration stamp per row.
func writeRecording(t *testing.T, dir, name, prev, next string, cycles ...int) string {
	t.Helper()
	var hf [][]any
	var msgs []map[string]any
	for _, c := range cycles {
		hf = append(hf, []any{c, float64(c) / 10})
		msgs = append(msgs, map[string]any{
			"HFTimestamp": map[string]any{
				"HFProbeCounter": c,
				"Time":           t0.Add(time.Duration(c) * 10 * time.Millisecond).Format(time.RFC3339Nano),
			},
		})
	}
	msgs = append(msgs,
		map[string]any{"HFData": hf},
		map[string]any{"LFData": []any{map[string]any{
			"address":        toolAddress,
			"value":          "T12",
			"value_type":     "string",
			"timestamp":      t0.Format(time.RFC3339Nano),
			"HFProbeCounter": cycles[0],
		}}},
		map[string]any{"HFBlockEvent": map[string]any{"HFProbeCounter": cycles[0], "GCode": "G1 X" + name}},
	)
	triggers := []string{`"TriggersOn":{"activeTool":"6"}`, `"TriggersOff":{"activeTool":"7"}`}
	doc := map[string]any{
		"Header": map[string]any{
			"Version":        map[string]any{"outputFileFormatVersion": "2.0", "RecorderVersion": "4.1"},
			"MachineInfo":    map[string]any{"MachineName": "DMU50", "CFCard": "CF-0001"},
			"JobDescription": triggers,
			"Initial":        map[string]any{"Time": t0.Format(time.RFC3339Nano)},
			"SignalListHFData": []map[string]any{
				{"Name": "CYCLE", "Type": "INTEGER", "Axis": "Cycle", "Address": "CYCLE"},
				{"Name": "X", "Type": "DOUBLE", "Axis": "X1", "Address": "X|1"},
			},
			"SignalListLFData": []map[string]any{
				{"id": 1, "path": "/Channel/State/actToolIdent", "device": "nck", "label": "tool", "samplingPeriod": 10},
			},
		},
		"Payload": msgs,
		"Footer": map[string]any{
			"FilePathChain": map[string]any{"Previous": nullable(prev), "Actual": name, "Next": nullable(next)},
		},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func TestWriteRecording_DecodesWithHeader(t *testing.T) {
	p := writeRecording(t, t.TempDir(), "a.json", "", "", 0, 50)
	run, err := capture.ParseRun([]string{p}, capture.Options{Warn: func(capture.Warning) {}})
	require.NoError(t, err)
	assert.Equal(t, "6", run.Header.Job.TriggersOn["activeTool"])
	assert.Equal(t, "7", run.Header.Job.TriggersOff["activeTool"])
	assert.Equal(t, 2, run.Tables[capture.GroupHFData].Len())
}
