package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ErrUnsupportedValue is returned when a property value is not one of the
// kinds an event can carry.
var ErrUnsupportedValue = errors.New("unsupported property value")

// Kind is the kind of a property value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a property value: a string, a number, a boolean or a nested
// property map. The zero Value is invalid.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    Properties
}

// Properties maps property names to values.
type Properties map[string]Value

func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Map(m Properties) Value { return Value{kind: KindMap, m: m} }

func (v Value) Kind() Kind        { return v.kind }
func (v Value) Str() string       { return v.str }
func (v Value) Float() float64    { return v.num }
func (v Value) Boolean() bool     { return v.b }
func (v Value) Props() Properties { return v.m }

// Any returns the value as a plain Go value (string, float64, bool or
// map[string]any).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Map()
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("marshal %s value: %w", v.kind, ErrUnsupportedValue)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty property value: %w", ErrUnsupportedValue)
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '{':
		var m Properties
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if m == nil {
			m = Properties{}
		}
		*v = Map(m)
	case 'n', '[':
		return fmt.Errorf("property value %s: %w", data, ErrUnsupportedValue)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = Number(n)
	}
	return nil
}

// Map returns the properties as a plain map[string]any.
func (p Properties) Map() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Any()
	}
	return out
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Properties) Equal(o Properties) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// FromMap converts arbitrary Go values into Properties. Strings, booleans,
// every integer and float kind, json.Number and nested string-keyed maps are
// accepted; anything else fails with ErrUnsupportedValue.
func FromMap(in map[string]any) (Properties, error) {
	return fromMap(in, "")
}

func fromMap(in map[string]any, prefix string) (Properties, error) {
	out := make(Properties, len(in))
	for k, raw := range in {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		v, err := valueOf(raw, path)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func valueOf(raw any, path string) (Value, error) {
	switch x := raw.(type) {
	case Value:
		if x.kind == KindInvalid {
			return Value{}, fmt.Errorf("property %q: %w", path, ErrUnsupportedValue)
		}
		return x, nil
	case Properties:
		return Map(x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("property %q: %w", path, ErrUnsupportedValue)
		}
		return checkedNumber(f, path)
	case map[string]any:
		m, err := fromMap(x, path)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	case map[string]string:
		m := make(Properties, len(x))
		for k, s := range x {
			m[k] = String(s)
		}
		return Map(m), nil
	case nil:
		return Value{}, fmt.Errorf("property %q is nil: %w", path, ErrUnsupportedValue)
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return checkedNumber(rv.Float(), path)
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	default:
		return Value{}, fmt.Errorf("property %q of type %T: %w", path, raw, ErrUnsupportedValue)
	}
}

func checkedNumber(f float64, path string) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("property %q is not a finite number: %w", path, ErrUnsupportedValue)
	}
	return Number(f), nil
}
