package guard

import "strconv"

// Value is a scalar resolved from a guard context: bool, number,
// string, or null (the Null value, of kind KindNull, which is what
// Context.Lookup returns for a missing path).
type Value struct {
	Kind ValueKind
	Bool bool
	Num  float64
	Str  string
}

// ValueKind enumerates the scalar kinds a context path can resolve to.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
)

// Null is the canonical null value.
var Null = Value{Kind: KindNull}

func boolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func numberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func stringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Truthy reports whether a value counts as true in a bare-path guard
// term (spec: "a bare path ... is truthy if the resolved value is
// truthy").
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0
	case KindString:
		return v.Str != ""
	default:
		return false
	}
}

// Equal implements the grammar's value-equality rule: numeric and
// string comparisons are by value, after coercing a literal
// boolean/null keyword spelled as a string into its typed equivalent.
func (v Value) Equal(other Value) bool {
	v = coerceKeyword(v)
	other = coerceKeyword(other)

	if v.Kind == KindNull || other.Kind == KindNull {
		return v.Kind == KindNull && other.Kind == KindNull
	}
	if v.Kind != other.Kind {
		// Allow cross comparison between number and numeric-looking string.
		if v.Kind == KindString && other.Kind == KindNumber {
			if n, err := strconv.ParseFloat(v.Str, 64); err == nil {
				return n == other.Num
			}
			return false
		}
		if v.Kind == KindNumber && other.Kind == KindString {
			if n, err := strconv.ParseFloat(other.Str, 64); err == nil {
				return v.Num == n
			}
			return false
		}
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	default:
		return false
	}
}

// coerceKeyword rewrites a string literal spelled "true"/"false"/"null"
// into its typed value, per the grammar's value production where those
// keywords are recognised tokens rather than plain strings.
func coerceKeyword(v Value) Value {
	if v.Kind != KindString {
		return v
	}
	switch v.Str {
	case "true":
		return boolValue(true)
	case "false":
		return boolValue(false)
	case "null":
		return Null
	default:
		return v
	}
}
