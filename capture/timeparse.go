package capture

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
}

// Recorder timestamps without an offset are taken as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime parses a recorder timestamp: an ISO-8601 string (with or without
// offset) or a numeric epoch. Numeric epochs are scaled by magnitude: seconds,
// milliseconds, microseconds or nanoseconds.
func ParseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return parseTimeString(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return epochTime(float64(n), n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", x, err)
		}
		return epochTime(f, 0), nil
	case float64:
		return epochTime(x, 0), nil
	case int64:
		return epochTime(float64(x), x), nil
	default:
		return time.Time{}, fmt.Errorf("parse time: unexpected %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse time: empty string")
	}
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time: unsupported format %q", s)
}

// epochTime converts a numeric epoch. exact carries the integer value when the
// input was integral so nanosecond epochs keep full precision.
func epochTime(f float64, exact int64) time.Time {
	abs := math.Abs(f)
	switch {
	case abs < 1e11:
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	case abs < 1e14:
		if exact != 0 {
			return time.UnixMilli(exact).UTC()
		}
		return time.Unix(0, int64(math.Round(f*1e6))).UTC()
	case abs < 1e17:
		if exact != 0 {
			return time.UnixMicro(exact).UTC()
		}
		return time.Unix(0, int64(math.Round(f*1e3))).UTC()
	default:
		if exact != 0 {
			return time.Unix(0, exact).UTC()
		}
		return time.Unix(0, int64(f)).UTC()
	}
}
