// Package jsonval is a small tagged-union representation of JSON documents. Unlike
// map[string]any it keeps object keys in document order, which matters when values are
// re-serialized for substring search and when validation errors are reported.
package jsonval

import (
	"math"
	"strconv"
)

// Kind is the basic JSON type of a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "boolean"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Field is one key/value pair of an object.
type Field struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	num    float64
	lit    string // number literal as it appeared in the source, if parsed
	str    string
	items  []Value
	fields []Field
}

func NullValue() Value { return Value{} }

func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

func NumberValue(f float64) Value { return Value{kind: Number, num: f} }

func StringValue(s string) Value { return Value{kind: String, str: s} }

// ArrayValue builds an array. The slice is copied.
func ArrayValue(items ...Value) Value {
	return Value{kind: Array, items: append([]Value(nil), items...)}
}

// ObjectValue builds an object from fields in the given order. A repeated key keeps the
// position of its first occurrence and the value of its last.
func ObjectValue(fields ...Field) Value {
	out := make([]Field, 0, len(fields))
	index := make(map[string]int, len(fields))
	for _, f := range fields {
		if i, ok := index[f.Key]; ok {
			out[i].Value = f.Value
			continue
		}
		index[f.Key] = len(out)
		out = append(out, f)
	}
	return Value{kind: Object, fields: out}
}

// Strings is a convenience for building an array of strings.
func Strings(values ...string) Value {
	items := make([]Value, len(values))
	for i, s := range values {
		items[i] = StringValue(s)
	}
	return Value{kind: Array, items: items}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool   { return v.kind == Null }
func (v Value) IsArray() bool  { return v.kind == Array }
func (v Value) IsObject() bool { return v.kind == Object }
func (v Value) IsString() bool { return v.kind == String }
func (v Value) IsNumber() bool { return v.kind == Number }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == Bool }

func (v Value) Float() (float64, bool) { return v.num, v.kind == Number }

func (v Value) Str() (string, bool) { return v.str, v.kind == String }

// IsInteger reports whether v is a number without a fractional part.
func (v Value) IsInteger() bool {
	if v.kind != Number || math.IsInf(v.num, 0) || math.IsNaN(v.num) {
		return false
	}
	return v.num == math.Trunc(v.num)
}

// Len returns the number of array items or object fields; zero for scalars.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Object:
		return len(v.fields)
	}
	return 0
}

// Items returns a copy of the array items, or nil if v is not an array.
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return append([]Value(nil), v.items...)
}

// Fields returns a copy of the object fields in document order, or nil if v is not an object.
func (v Value) Fields() []Field {
	if v.kind != Object {
		return nil
	}
	return append([]Field(nil), v.fields...)
}

// Keys returns object keys in document order.
func (v Value) Keys() []string {
	if v.kind != Object {
		return nil
	}
	keys := make([]string, len(v.fields))
	for i, f := range v.fields {
		keys[i] = f.Key
	}
	return keys
}

// Get looks up an own key of an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether key is an own key of the object v.
func (v Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Truthy follows the usual scripting notion: null, false, 0 and "" are falsy; everything
// else, including empty arrays and objects, is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case Null:
		return false
	case Bool:
		return v.b
	case Number:
		return v.num != 0 && !math.IsNaN(v.num)
	case String:
		return v.str != ""
	}
	return true
}

// Text returns strings verbatim and the compact JSON form of everything else. Null
// renders as the empty string.
func (v Value) Text() string {
	switch v.kind {
	case Null:
		return ""
	case String:
		return v.str
	}
	return v.String()
}

// Equal reports deep equality. Object key order is not significant.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Null:
		return true
	case Bool:
		return a.b == b.b
	case Number:
		return a.num == b.num
	case String:
		return a.str == b.str
	case Array:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for _, f := range a.fields {
			other, ok := b.Get(f.Key)
			if !ok || !Equal(f.Value, other) {
				return false
			}
		}
		return true
	}
	return false
}

func formatNumber(v Value) string {
	if v.lit != "" {
		return v.lit
	}
	if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
		return "null"
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}
