// Package dynjson models schemaless JSON trees (tool-call arguments,
// filter attribute values, remote-tool payloads) as a canonical dynamic
// value whose accessors return an explicit "missing" rather than raising
// on absent keys, per the design note on dynamic JSON in SPEC_FULL.md.
package dynjson

import "encoding/json"

// Kind enumerates the sealed variants of Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a dynamic JSON value: null, bool, number, string, list, or map.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a slice of values.
func List(items []Value) Value { return Value{kind: KindList, list: items} }

// Map wraps a string-keyed map of values.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null (or the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool value and whether v is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric value and whether v is a number.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsString returns the string value and whether v is a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsList returns the list and whether v is a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns the map and whether v is a map.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Get looks up a dotted path ("a.b.c") into nested maps, returning
// (Null(), false) rather than panicking when any segment is missing or
// not a map. This backs the filter model's metadata key resolution (C2).
func (v Value) Get(path string) (Value, bool) {
	cur := v
	for _, seg := range splitPath(path) {
		m, ok := cur.AsMap()
		if !ok {
			return Null(), false
		}
		next, ok := m[seg]
		if !ok {
			return Null(), false
		}
		cur = next
	}
	return cur, true
}

// GetString is a convenience wrapper around Get + AsString.
func (v Value) GetString(path string) (string, bool) {
	val, ok := v.Get(path)
	if !ok {
		return "", false
	}
	return val.AsString()
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

// FromAny converts a generic Go value (as produced by encoding/json
// Unmarshal into interface{}, or a map[string]any payload) into a Value.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return List(items)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Map(m)
	default:
		return Null()
	}
}

// ParseJSON decodes raw JSON text into a Value.
func ParseJSON(raw []byte) (Value, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Null(), err
	}
	return FromAny(generic), nil
}

// ToAny converts a Value back into plain Go types (map[string]any,
// []any, string, float64, bool, nil), for re-marshaling or handing to
// code that expects generic JSON.
func (v Value) ToAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}
