package schedule

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/teranos/pulsejobs/errors"
)

// Kind identifies which variant a Value holds
type Kind int

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
	default:
		return "null"
	}
}

// Value is a JSON-like payload or result. The zero Value is null.
// Only the field matching Kind is meaningful.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	arr    []Value
	fields map[string]Value
}

// Null returns the null value
func Null() Value { return Value{} }

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a list of values
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), items...)}
}

// Object wraps a map of values
func Object(fields map[string]Value) Value {
	copied := make(map[string]Value, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Value{kind: KindObject, fields: copied}
}

// Kind reports the variant held
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v holds one
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number and whether v holds one
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string and whether v holds one
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the items and whether v holds an array
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the fields and whether v holds an object
func (v Value) AsObject() (map[string]Value, bool) { return v.fields, v.kind == KindObject }

// Field returns a member of an object value, or null
func (v Value) Field(name string) Value {
	if v.kind != KindObject {
		return Null()
	}
	return v.fields[name]
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		items := v.arr
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindObject:
		// Sorted keys keep stored payloads stable
		keys := make([]string, 0, len(v.fields))
		for k := range v.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := v.fields[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "invalid JSON value")
	}
	converted, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// FromInterface converts decoded JSON (encoding/json generic types) into a Value
func FromInterface(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return Value{}, errors.Wrapf(err, "invalid number %s", x.String())
		}
		return Number(n), nil
	case float64:
		return Number(x), nil
	case int:
		return Number(float64(x)), nil
	case string:
		return String(x), nil
	case []interface{}:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			converted, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]interface{}:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			converted, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = converted
		}
		return Value{kind: KindObject, fields: fields}, nil
	default:
		return Value{}, errors.Newf("unsupported value type %T", raw)
	}
}

// ParseValue decodes a JSON document into a Value
func ParseValue(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// MustJSON renders v as JSON text; values built by this package always encode
func (v Value) MustJSON() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(data)
}
