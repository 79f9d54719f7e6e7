package metadoc

import (
	"fmt"
	"math"
)

// normalize converts a decoded value into a canonical shape so that values
// arriving from JSON (remote API) and YAML (local file) compare equal when
// they mean the same thing. JSON decoding yields float64 for every number
// and map[string]any for objects; YAML yields int for whole numbers and may
// yield map[any]any. Whole-number floats collapse to int64, integer types
// widen to int64, and all container types become map[string]any / []any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if s, ok := k.(string); ok {
				out[s] = normalize(e)
			} else {
				out[fmt.Sprint(k)] = normalize(e)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return normalize(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < math.MaxInt64 {
			return int64(t)
		}
		return t
	default:
		return v
	}
}

