// Typed attribute values for collected telemetry
// Values are immutable once stored and encode untagged on the wire
package collect

import (
	"encoding/json"
	"strconv"
)

// ValueKind identifies which member of the Value union is set.
type ValueKind int

// Supported value kinds.
const (
	KindInvalid ValueKind = iota
	KindInt64
	KindUint64
	KindBool
	KindString
)

// Value is a tagged union over int64, uint64, bool, and string.
// The zero Value is invalid and encodes as JSON null.
type Value struct {
	kind ValueKind
	num  uint64
	str  string
}

// Int64Value wraps a signed integer.
func Int64Value(v int64) Value {
	return Value{kind: KindInt64, num: uint64(v)}
}

// Uint64Value wraps an unsigned integer.
func Uint64Value(v uint64) Value {
	return Value{kind: KindUint64, num: v}
}

// BoolValue wraps a boolean.
func BoolValue(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

// StringValue wraps a string.
func StringValue(v string) Value {
	return Value{kind: KindString, str: v}
}

// Kind reports which member is set.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Int64 returns the signed integer member. Valid only for KindInt64.
func (v Value) Int64() int64 {
	return int64(v.num)
}

// Uint64 returns the unsigned integer member. Valid only for KindUint64.
func (v Value) Uint64() uint64 {
	return v.num
}

// Bool returns the boolean member. Valid only for KindBool.
func (v Value) Bool() bool {
	return v.num == 1
}

// Str returns the string member. Valid only for KindString.
func (v Value) Str() string {
	return v.str
}

func (v Value) String() string {
	switch v.kind {
	case KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case KindUint64:
		return strconv.FormatUint(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindString:
		return v.str
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the value untagged: numbers as numbers, booleans
// as booleans, strings as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt64:
		return strconv.AppendInt(nil, v.Int64(), 10), nil
	case KindUint64:
		return strconv.AppendUint(nil, v.num, 10), nil
	case KindBool:
		return strconv.AppendBool(nil, v.Bool()), nil
	case KindString:
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}
