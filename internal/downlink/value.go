package downlink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindNull is JSON null, and the zero Kind.
	KindNull Kind = iota
	// KindBool is true or false.
	KindBool
	// KindNumber is a number kept as its literal text.
	KindNumber
	// KindString is a string.
	KindString
	// KindArray is an ordered list of values.
	KindArray
	// KindObject is a list of members in document order.
	KindObject
)

// MaxDepth is the deepest nesting of arrays and objects Parse accepts,
// the same limit encoding/json applies.
const MaxDepth = 10000

// String returns a human-readable kind name.
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
	default:
		return "unknown"
	}
}

// Member is one key/value pair of an object, in document order.
type Member struct {
	Key   string
	Value Value
}

// Value is a schema-flexible JSON value.
//
// Objects keep their members in document order (duplicates included) and
// numbers keep their literal text, so decoding then encoding reproduces the
// input apart from insignificant whitespace.
//
// The zero Value is JSON null.
type Value struct {
	kind    Kind
	boolean bool
	text    string // string contents, or the number literal
	items   []Value
	members []Member
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Int returns a number value holding i.
func Int(i int64) Value {
	return Value{kind: KindNumber, text: strconv.FormatInt(i, 10)}
}

// Number returns a number value from its JSON literal.
func Number(n json.Number) (Value, error) {
	if _, err := n.Float64(); err != nil {
		return Value{}, fmt.Errorf("%w: number %q", ErrInvalidPayload, string(n))
	}
	return Value{kind: KindNumber, text: string(n)}, nil
}

// Array returns an array value.
func Array(items ...Value) Value {
	return Value{kind: KindArray, items: items}
}

// Object returns an object value with members in the given order.
func Object(members ...Member) Value {
	return Value{kind: KindObject, members: members}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.boolean, v.kind == KindBool
}

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// AsNumber returns the number literal and whether v is a number.
func (v Value) AsNumber() (json.Number, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return json.Number(v.text), true
}

// AsFloat64 returns the number as a float64.
func (v Value) AsFloat64() (float64, bool) {
	n, ok := v.AsNumber()
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// AsInt64 returns the number as an int64 when it is integral and in range.
func (v Value) AsInt64() (int64, bool) {
	n, ok := v.AsNumber()
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}

// Items returns the elements of an array, or nil.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Members returns the members of an object in document order, or nil.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.members
}

// Len returns the number of array elements or object members.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	default:
		return 0
	}
}

// Get returns the member value for key. When a key repeats, the last
// occurrence wins, as with encoding/json.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	for i := len(v.members) - 1; i >= 0; i-- {
		if v.members[i].Key == key {
			return v.members[i].Value, true
		}
	}
	return Value{}, false
}

// String returns the compact JSON encoding of v.
func (v Value) String() string {
	var buf bytes.Buffer
	v.encode(&buf)
	return buf.String()
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.encode(&buf)
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) encode(buf *bytes.Buffer) {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.boolean))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		encodeString(buf, v.text)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.encode(buf)
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeString(buf, m.Key)
			buf.WriteByte(':')
			m.Value.encode(buf)
		}
		buf.WriteByte('}')
	}
}

// encodeString writes s as a JSON string without HTML escaping.
func encodeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // strings always encode
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
}

// Parse decodes any single JSON document into a Value.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidPayload)
	}

	return v, nil
}

// decodeValue reads one value whose enclosing containers number depth.
func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Value{kind: KindNumber, text: string(t)}, nil
	case string:
		return String(t), nil
	case json.Delim:
		if t != '{' && t != '[' {
			break
		}
		if depth >= MaxDepth {
			return Value{}, fmt.Errorf("exceeded max depth %d", MaxDepth)
		}
		if t == '{' {
			return decodeObject(dec, depth+1)
		}
		return decodeArray(dec, depth+1)
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder, depth int) (Value, error) {
	members := []Member{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key must be a string, got %v", tok)
		}
		val, err := decodeValue(dec, depth)
		if err != nil {
			return Value{}, err
		}
		members = append(members, Member{Key: key, Value: val})
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return Object(members...), nil
}

func decodeArray(dec *json.Decoder, depth int) (Value, error) {
	items := []Value{}
	for dec.More() {
		val, err := decodeValue(dec, depth)
		if err != nil {
			return Value{}, err
		}
		items = append(items, val)
	}
	// closing ']'
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return Array(items...), nil
}
