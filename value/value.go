// Package value defines the tagged runtime value that flows through the
// compiler's constant pool and the VM's operand stack and locals array.
package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Pair is one (key, value) entry of a Map. Map preserves insertion order and
// compares keys structurally rather than hashing them, matching spec.md's
// "ordered sequence of (Value,Value) pairs" data model.
type Pair struct {
	Key   Value
	Value Value
}

// Value is a dynamically-typed runtime value. Only one field is meaningful
// per Kind; Array/Map share the underlying slice fields with String's byte
// length check elided since Str is carried separately.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    bool
	Str  string
	Arr  []Value
	Map  []Pair
}

func Null() Value                 { return Value{Kind: KindNull} }
func Int(i int64) Value           { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value       { return Value{Kind: KindFloat, F: f} }
func Bool(b bool) Value           { return Value{Kind: KindBool, B: b} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Array(items []Value) Value   { return Value{Kind: KindArray, Arr: items} }
func Map(pairs []Pair) Value      { return Value{Kind: KindMap, Map: pairs} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// TypeOf returns the lowercase type name used by the VM's type_of builtin.
func (v Value) TypeOf() string { return v.Kind.String() }

// Equal implements the VM's structural equality: mixed Int/Float pairs
// promote to Float before comparing, strings compare byte-for-byte, and
// Array/Map compare element-wise and pair-wise in order.
func (v Value) Equal(other Value) bool {
	if v.Kind == KindInt && other.Kind == KindFloat {
		return float64(v.I) == other.F
	}
	if v.Kind == KindFloat && other.Kind == KindInt {
		return v.F == float64(other.I)
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindInt:
		return v.I == other.I
	case KindFloat:
		return v.F == other.F
	case KindBool:
		return v.B == other.B
	case KindString:
		return v.Str == other.Str
	case KindArray:
		if len(v.Arr) != len(other.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(other.Arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for i := range v.Map {
			if !v.Map[i].Key.Equal(other.Map[i].Key) || !v.Map[i].Value.Equal(other.Map[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Less implements the VM's ordering for Clt/Cgt: numerics promote to Float
// when mixed, strings compare lexicographically, everything else is
// incomparable (callers must type-check before calling Less).
func (v Value) Less(other Value) (bool, bool) {
	switch {
	case v.Kind == KindInt && other.Kind == KindInt:
		return v.I < other.I, true
	case (v.Kind == KindInt || v.Kind == KindFloat) && (other.Kind == KindInt || other.Kind == KindFloat):
		return v.asFloat() < other.asFloat(), true
	case v.Kind == KindString && other.Kind == KindString:
		return v.Str < other.Str, true
	default:
		return false, false
	}
}

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.I)
	}
	return v.F
}

// MapGet performs a linear structural lookup; Map is a small ordered
// association list, not a hash table, per spec.md's data model.
func (v Value) MapGet(key Value) (Value, bool) {
	for _, pair := range v.Map {
		if pair.Key.Equal(key) {
			return pair.Value, true
		}
	}
	return Value{}, false
}

// MapSet returns a new Map with key bound to val, preserving insertion order
// and overwriting an existing entry for the same key in place.
func (v Value) MapSet(key, val Value) Value {
	pairs := make([]Pair, len(v.Map))
	copy(pairs, v.Map)
	for i := range pairs {
		if pairs[i].Key.Equal(key) {
			pairs[i].Value = val
			return Value{Kind: KindMap, Map: pairs}
		}
	}
	pairs = append(pairs, Pair{Key: key, Value: val})
	return Value{Kind: KindMap, Map: pairs}
}

// String renders a Value the way the VM's to_string builtin and debugger
// print commands do.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindString:
		return v.Str
	case KindArray:
		parts := make([]string, len(v.Arr))
		for i, item := range v.Arr {
			parts[i] = item.render()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, len(v.Map))
		for i, pair := range v.Map {
			parts[i] = fmt.Sprintf("%s: %s", pair.Key.render(), pair.Value.render())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<?>"
	}
}

// render quotes strings when they appear nested inside Array/Map, matching
// how the to_string builtin distinguishes top-level strings from nested ones.
func (v Value) render() string {
	if v.Kind == KindString {
		return strconv.Quote(v.Str)
	}
	return v.String()
}
