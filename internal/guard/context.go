package guard

import "strings"

// Context is the nested map a guard expression is evaluated against —
// the live issue-state view (status, config, etc). Values may be
// bool, float64, int, string, nil, or nested map[string]interface{}.
type Context map[string]interface{}

// Lookup resolves a dotted path against the context. A missing path at
// any segment resolves to Null, never an error — this is the
// "unknown identifiers resolve to null" invariant from spec.md §8.
func (c Context) Lookup(path string) Value {
	segments := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(c)

	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return Null
		}
		next, ok := m[seg]
		if !ok {
			return Null
		}
		cur = next
	}
	return toValue(cur)
}

func toValue(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case bool:
		return boolValue(t)
	case string:
		return stringValue(t)
	case float64:
		return numberValue(t)
	case float32:
		return numberValue(float64(t))
	case int:
		return numberValue(float64(t))
	case int64:
		return numberValue(float64(t))
	case map[string]interface{}:
		// A path resolving to a sub-map is not a scalar: a non-empty
		// map resolves to boolean true ("present"), an empty one to
		// Null.
		if len(t) == 0 {
			return Null
		}
		return boolValue(true)
	default:
		return Null
	}
}

// Flatten produces "A_B_C=value"-style environment assignments for the
// script phase runner (spec.md §4.4: "Exports flattened context as
// environment variables").
func (c Context) Flatten() map[string]string {
	out := make(map[string]string)
	flattenInto(strings.ToUpper(""), map[string]interface{}(c), out)
	return out
}

func flattenInto(prefix string, m map[string]interface{}, out map[string]string) {
	for k, v := range m {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch t := v.(type) {
		case map[string]interface{}:
			flattenInto(key, t, out)
		case nil:
			out[key] = ""
		case string:
			out[key] = t
		case bool:
			out[key] = boolString(t)
		case float64:
			out[key] = trimFloat(t)
		case int:
			out[key] = trimFloat(float64(t))
		default:
			out[key] = ""
		}
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
