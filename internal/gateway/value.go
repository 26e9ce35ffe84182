package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Kind is the dynamic type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// maxExactInt is the largest integer a float64 represents exactly. Numbers
// travel as float64, so integers beyond it lose precision on decode.
const maxExactInt = 1 << 53

// Value is a structurally decoded JSON value used for envelope bodies. The
// zero Value is null. Values are immutable once built.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Int(i int64) Value { return Value{kind: KindNumber, num: float64(i)} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsInt returns the number as an int64 when it is integral and inside the
// range a float64 carries exactly.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.num != math.Trunc(v.num) || math.Abs(v.num) > maxExactInt {
		return 0, false
	}
	return int64(v.num), true
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsArray() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Field returns the member named key of an object value. It reports false
// when v is not an object or the member is absent.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Equal reports whether two values are structurally identical. An empty
// array equals a nil array.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// UnmarshalJSON decodes any JSON text into a Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// MarshalJSON encodes the value. Object keys are emitted in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Object(m), nil
	}
	return Value{}, fmt.Errorf("unsupported JSON value of type %T", raw)
}

func (v Value) toAny() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.toAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.toAny()
		}
		return out
	}
	return nil
}

// Keys returns the member names of an object value in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
