package capture

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Family distinguishes the two signal descriptor variants.
type Family int

const (
	// FamilyHF signals are positional: the catalog order is the row layout.
	FamilyHF Family = iota
	// FamilyLF signals are addressed: rows name their signal by path.
	FamilyLF
)

func (f Family) String() string {
	if f == FamilyLF {
		return "lf"
	}
	return "hf"
}

// Signal describes one catalog entry. HF entries fill Name, Type, Axis and
// Address; LF entries fill ID, Device, Address (the device path), Label,
// SamplingPeriodMs and, when the catalog declares one, Type.
type Signal struct {
	Family           Family
	Name             string
	Type             ValueType
	Axis             string
	Address          string
	ID               int
	Device           string
	Label            string
	SamplingPeriodMs int
}

// Column is the table column a decoded value of s is stored under. LF values
// are keyed by address. With rename set, HF signals on a machine axis become
// "<name head>|<axis>".
func (s Signal) Column(rename bool) string {
	if s.Family == FamilyLF {
		return s.Address
	}
	if rename {
		return RenameSignal(s)
	}
	return s.Name
}

// Schema is the ordered catalog of one group.
type Schema struct {
	Group   string
	Family  Family
	Signals []Signal

	byAddress map[string]int
}

// NewSchema indexes signals by address. Duplicate addresses keep the first
// entry.
func NewSchema(group string, family Family, signals []Signal) *Schema {
	s := &Schema{Group: group, Family: family, Signals: signals, byAddress: make(map[string]int, len(signals))}
	for i, sig := range signals {
		if _, ok := s.byAddress[sig.Address]; !ok {
			s.byAddress[sig.Address] = i
		}
	}
	return s
}

func (s *Schema) Len() int { return len(s.Signals) }

// Lookup returns the signal registered under address.
func (s *Schema) Lookup(address string) (Signal, bool) {
	i, ok := s.byAddress[address]
	if !ok {
		return Signal{}, false
	}
	return s.Signals[i], true
}

// Columns lists the column names of the catalog in order.
func (s *Schema) Columns(rename bool) []string {
	out := make([]string, len(s.Signals))
	for i, sig := range s.Signals {
		out[i] = sig.Column(rename)
	}
	return out
}

// GroupByHead groups the catalog's signals by the name head of their address.
func (s *Schema) GroupByHead() map[string][]Signal {
	out := make(map[string][]Signal)
	for _, sig := range s.Signals {
		head := SignalNameHead(sig.Address)
		out[head] = append(out[head], sig)
	}
	return out
}

// ParseSignals converts raw catalog entries into descriptors.
//
// HF entries look like {"Name":"CYCLE","Type":"INTEGER","Axis":"Cycle","Address":"CYCLE"};
// LF entries like {"id":1,"device":"...","path":"/Channel/...","label":"","samplingPeriod":10}.
func ParseSignals(entries []map[string]any, family Family) ([]Signal, error) {
	out := make([]Signal, 0, len(entries))
	for i, el := range entries {
		var (
			sig Signal
			err error
		)
		switch family {
		case FamilyHF:
			sig, err = parseHFSignal(el)
		case FamilyLF:
			sig, err = parseLFSignal(el)
		default:
			return nil, fmt.Errorf("unknown signal family %d", family)
		}
		if err != nil {
			return nil, fmt.Errorf("%s signal %d: %w", family, i, err)
		}
		out = append(out, sig)
	}
	return out, nil
}

func parseHFSignal(el map[string]any) (Signal, error) {
	name, err := requireString(el, "Name")
	if err != nil {
		return Signal{}, err
	}
	typ, err := requireString(el, "Type")
	if err != nil {
		return Signal{}, err
	}
	vt, err := ParseValueType(typ)
	if err != nil {
		return Signal{}, err
	}
	axis, _ := optionalString(el, "Axis")
	address, ok := optionalString(el, "Address")
	if !ok {
		address = name
	}
	return Signal{Family: FamilyHF, Name: name, Type: vt, Axis: axis, Address: address}, nil
}

func parseLFSignal(el map[string]any) (Signal, error) {
	id, err := requireInt(el, "id")
	if err != nil {
		return Signal{}, err
	}
	path, err := requireString(el, "path")
	if err != nil {
		return Signal{}, err
	}
	device, _ := optionalString(el, "device")
	label, _ := optionalString(el, "label")
	period := -1
	if _, ok := el["samplingPeriod"]; ok {
		if period, err = requireInt(el, "samplingPeriod"); err != nil {
			return Signal{}, err
		}
	}
	sig := Signal{
		Family:           FamilyLF,
		Name:             label,
		Address:          path,
		ID:               id,
		Device:           device,
		Label:            label,
		SamplingPeriodMs: period,
	}
	if sig.Name == "" {
		sig.Name = path
	}
	if typ, ok := optionalString(el, "type"); ok && typ != "" {
		if sig.Type, err = ParseValueType(typ); err != nil {
			return Signal{}, err
		}
	}
	return sig, nil
}

func requireString(el map[string]any, key string) (string, error) {
	s, ok := optionalString(el, key)
	if !ok {
		return "", fmt.Errorf("missing %q", key)
	}
	return s, nil
}

func optionalString(el map[string]any, key string) (string, bool) {
	v, ok := el[key]
	if !ok || v == nil {
		return "", false
	}
	return castString(v), true
}

func requireInt(el map[string]any, key string) (int, error) {
	v, ok := el[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("%q: %w", key, err)
		}
		return int(n), nil
	case float64:
		return int(x), nil
	case int64:
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%q: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%q: unexpected %T", key, v)
	}
}

var (
	reNameHead = regexp.MustCompile(`^([A-Za-z0-9_\-.:]+)\|(?:\d|[a-cA-Cx-zX-ZsS])`)
	reAxis     = regexp.MustCompile(`(?i)^(?:[a-cx-z]|sp)\d+`)
)

// SignalNameHead returns the part of a signal name or address before its axis
// suffix, e.g. "DES_POS" for "DES_POS|2" or "CURRENT" for "CURRENT|X". Names
// without such a suffix are returned unchanged.
func SignalNameHead(name string) string {
	m := reNameHead.FindStringSubmatch(name)
	if m == nil {
		return name
	}
	return m[1]
}

// RenameSignal labels an HF signal "<name head>|<axis>" when its axis is a
// machine axis token (X1, Y2, Z1, A1, B1, C1, SP1, ...); otherwise it keeps
// the catalog name.
func RenameSignal(s Signal) string {
	if !reAxis.MatchString(s.Axis) {
		return s.Name
	}
	return SignalNameHead(s.Name) + "|" + s.Axis
}
