package capture

import (
	"fmt"
	"sort"
	"strconv"
)

type FlattenOptions struct {
	MaxDepth int
	MaxKeys  int
}

// FlattenRecord spreads nested objects and arrays of an event record into
// dotted keys ("a.b", "a.c[0]") so every value is a scalar.
func FlattenRecord(value map[string]any, opts FlattenOptions) map[string]any {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 1000
	}

	out := make(map[string]any, len(value))
	for _, k := range sortedKeys(value) {
		flattenInto(out, k, value[k], 1, opts)
		if len(out) >= opts.MaxKeys {
			break
		}
	}
	return out
}

func flattenInto(out map[string]any, prefix string, value any, depth int, opts FlattenOptions) {
	if len(out) >= opts.MaxKeys {
		return
	}
	if depth > opts.MaxDepth {
		out[prefix] = fmt.Sprintf("<max_depth:%d>", opts.MaxDepth)
		return
	}

	switch v := value.(type) {
	case map[string]any:
		for _, k := range sortedKeys(v) {
			flattenInto(out, prefix+"."+k, v[k], depth+1, opts)
			if len(out) >= opts.MaxKeys {
				return
			}
		}
	case []any:
		for i, child := range v {
			flattenInto(out, prefix+"["+strconv.Itoa(i)+"]", child, depth+1, opts)
			if len(out) >= opts.MaxKeys {
				return
			}
		}
	default:
		out[prefix] = v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
