package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Group names of a recording payload.
const (
	GroupHFData       = "HFData"
	GroupLFData       = "LFData"
	GroupExternalData = "ExternalData"
	GroupHFCallEvent  = "HFCallEvent"
	GroupHFBlockEvent = "HFBlockEvent"
	GroupHFTimestamp  = "HFTimestamp"
)

// Column names shared by several groups.
const (
	ColumnCycle        = "CYCLE"
	ColumnProbeCounter = "HFProbeCounter"
	ColumnTime         = "Time"
	ColumnGCode        = "GCode"
)

type Version struct {
	OutputFileFormat string
	Recorder         string
}

type Machine struct {
	Name   string
	CFCard string
}

// Job holds the trigger conditions that started and stopped the recording.
type Job struct {
	TriggersOn  map[string]string
	TriggersOff map[string]string
}

// TimeInfo anchors a recording in wall-clock time. StartCounter and
// CycleTimeMs are -1 when the header does not carry them.
type TimeInfo struct {
	StartTime    time.Time
	StartCounter int64
	CycleTimeMs  int64
}

// HasCounter reports whether the start counter was recorded.
func (ti TimeInfo) HasCounter() bool { return ti.StartCounter >= 0 }

// Header is the decoded header section of one recording file.
type Header struct {
	Version Version
	Machine Machine
	Job     Job
	Time    TimeInfo
	Signals map[string]*Schema
}

// GroupSignals groups every catalog by name head of the signal addresses.
func (h *Header) GroupSignals() map[string]map[string][]Signal {
	out := make(map[string]map[string][]Signal, len(h.Signals))
	for group, schema := range h.Signals {
		out[group] = schema.GroupByHead()
	}
	return out
}

type rawHeader struct {
	Version struct {
		OutputFileFormatVersion string `json:"outputFileFormatVersion"`
		RecorderVersion         string `json:"RecorderVersion"`
	} `json:"Version"`
	MachineInfo struct {
		MachineName string `json:"MachineName"`
		CFCard      string `json:"CFCard"`
	} `json:"MachineInfo"`
	JobDescription []string `json:"JobDescription"`
	Initial        struct {
		Time           any         `json:"Time"`
		HFProbeCounter json.Number `json:"HFProbeCounter"`
	} `json:"Initial"`
	CycleTimeMs            json.Number      `json:"CycleTimeMs"`
	SignalListHFData       []map[string]any `json:"SignalListHFData"`
	SignalListLFData       []map[string]any `json:"SignalListLFData"`
	SignalListExternalData []map[string]any `json:"SignalListExternalData"`
}

// DecodeHeader decodes the raw JSON of a recording's Header section.
func DecodeHeader(raw json.RawMessage, w *warner, file string) (*Header, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rh rawHeader
	if err := dec.Decode(&rh); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return rh.build(w, file)
}

func (rh *rawHeader) build(w *warner, file string) (*Header, error) {
	h := &Header{
		Version: Version{
			OutputFileFormat: rh.Version.OutputFileFormatVersion,
			Recorder:         rh.Version.RecorderVersion,
		},
		Machine: Machine{
			Name:   rh.MachineInfo.MachineName,
			CFCard: rh.MachineInfo.CFCard,
		},
		Signals: make(map[string]*Schema),
	}

	job, err := parseJobDescription(rh.JobDescription)
	if err != nil {
		return nil, err
	}
	h.Job = job

	if rh.Initial.Time == nil {
		return nil, fmt.Errorf("header: missing Initial.Time")
	}
	start, err := ParseTime(rh.Initial.Time)
	if err != nil {
		return nil, fmt.Errorf("header Initial.Time: %w", err)
	}
	h.Time = TimeInfo{StartTime: start, StartCounter: -1, CycleTimeMs: -1}
	if rh.Initial.HFProbeCounter != "" {
		if h.Time.StartCounter, err = rh.Initial.HFProbeCounter.Int64(); err != nil {
			return nil, fmt.Errorf("header Initial.HFProbeCounter: %w", err)
		}
	}
	if rh.CycleTimeMs != "" {
		if h.Time.CycleTimeMs, err = rh.CycleTimeMs.Int64(); err != nil {
			return nil, fmt.Errorf("header CycleTimeMs: %w", err)
		}
	}

	if rh.SignalListHFData != nil {
		sigs, err := ParseSignals(rh.SignalListHFData, FamilyHF)
		if err != nil {
			return nil, fmt.Errorf("SignalListHFData: %w", err)
		}
		h.Signals[GroupHFData] = NewSchema(GroupHFData, FamilyHF, sigs)
	}
	if rh.SignalListLFData != nil {
		sigs, err := ParseSignals(rh.SignalListLFData, FamilyLF)
		if err != nil {
			return nil, fmt.Errorf("SignalListLFData: %w", err)
		}
		h.Signals[GroupLFData] = NewSchema(GroupLFData, FamilyLF, sigs)
	}
	if rh.SignalListExternalData != nil {
		if len(rh.SignalListExternalData) > 0 {
			w.warn(WarnExperimentalGroup, file, "SignalListExternalData is not production ready (%d signals)", len(rh.SignalListExternalData))
		}
		sigs, err := ParseSignals(rh.SignalListExternalData, FamilyHF)
		if err != nil {
			return nil, fmt.Errorf("SignalListExternalData: %w", err)
		}
		h.Signals[GroupExternalData] = NewSchema(GroupExternalData, FamilyHF, sigs)
	}
	return h, nil
}

// parseJobDescription splits entries like `"TriggersOn":{"activeTool":"6"}`
// at the first colon and decodes the value.
func parseJobDescription(entries []string) (Job, error) {
	if len(entries) != 2 {
		return Job{}, fmt.Errorf("header JobDescription: expected TriggersOn and TriggersOff, got %d entries", len(entries))
	}
	parsed := make(map[string]map[string]string, 2)
	for _, el := range entries {
		key, val, ok := strings.Cut(el, ":")
		if !ok {
			return Job{}, fmt.Errorf("header JobDescription: no key in %q", el)
		}
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		dec := json.NewDecoder(strings.NewReader(val))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return Job{}, fmt.Errorf("header JobDescription %q: %w", key, err)
		}
		triggers := make(map[string]string, len(m))
		for k, v := range m {
			triggers[k] = castString(v)
		}
		parsed[key] = triggers
	}
	on, okOn := parsed["TriggersOn"]
	off, okOff := parsed["TriggersOff"]
	if !okOn || !okOff {
		return Job{}, fmt.Errorf("header JobDescription: expected TriggersOn and TriggersOff")
	}
	return Job{TriggersOn: on, TriggersOff: off}, nil
}
