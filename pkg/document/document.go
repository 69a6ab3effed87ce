package document

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// Kind identifies which variant a Document holds.
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
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Document is a dynamically-typed JSON tree as returned by the status feed.
// The zero value is null.
type Document struct {
	kind Kind
	b    bool
	num  json.Number
	str  string
	arr  []Document
	obj  map[string]Document
}

// Null returns the null document.
func Null() Document { return Document{} }

// NewBool wraps a boolean scalar.
func NewBool(b bool) Document { return Document{kind: KindBool, b: b} }

// NewNumber wraps a numeric literal such as "10" or "2.5e3".
func NewNumber(n string) Document { return Document{kind: KindNumber, num: json.Number(n)} }

// NewString wraps a string scalar.
func NewString(s string) Document { return Document{kind: KindString, str: s} }

// NewArray builds an array document from its elements.
func NewArray(items ...Document) Document {
	if items == nil {
		items = []Document{}
	}
	return Document{kind: KindArray, arr: items}
}

// NewObject builds an object document. The map is not copied.
func NewObject(fields map[string]Document) Document {
	if fields == nil {
		fields = map[string]Document{}
	}
	return Document{kind: KindObject, obj: fields}
}

// Parse decodes raw JSON into a Document. Numbers keep their literal text.
func Parse(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return FromValue(v)
}

// FromValue converts a decoded JSON value (as produced by encoding/json into
// interface{}) into a Document.
func FromValue(v interface{}) (Document, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Document:
		return t, nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		return NewNumber(t.String()), nil
	case float64:
		return NewNumber(strconv.FormatFloat(t, 'g', -1, 64)), nil
	case int:
		return NewNumber(strconv.Itoa(t)), nil
	case int64:
		return NewNumber(strconv.FormatInt(t, 10)), nil
	case string:
		return NewString(t), nil
	case []interface{}:
		items := make([]Document, len(t))
		for i, item := range t {
			d, err := FromValue(item)
			if err != nil {
				return Document{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = d
		}
		return NewArray(items...), nil
	case map[string]interface{}:
		fields := make(map[string]Document, len(t))
		for k, item := range t {
			d, err := FromValue(item)
			if err != nil {
				return Document{}, fmt.Errorf("key %q: %w", k, err)
			}
			fields[k] = d
		}
		return NewObject(fields), nil
	default:
		return Document{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// Kind reports the variant held by d.
func (d Document) Kind() Kind { return d.kind }

// IsNull reports whether d is the null document.
func (d Document) IsNull() bool { return d.kind == KindNull }

// Len returns the number of elements of an array or fields of an object.
func (d Document) Len() int {
	switch d.kind {
	case KindArray:
		return len(d.arr)
	case KindObject:
		return len(d.obj)
	default:
		return 0
	}
}

// Get returns the field named key when d is an object.
func (d Document) Get(key string) (Document, bool) {
	if d.kind != KindObject {
		return Document{}, false
	}
	v, ok := d.obj[key]
	return v, ok
}

// Index returns the i-th element when d is an array.
func (d Document) Index(i int) (Document, bool) {
	if d.kind != KindArray || i < 0 || i >= len(d.arr) {
		return Document{}, false
	}
	return d.arr[i], true
}

// Items returns the elements of an array document.
func (d Document) Items() []Document {
	if d.kind != KindArray {
		return nil
	}
	return d.arr
}

// Keys returns the sorted field names of an object document.
func (d Document) Keys() []string {
	if d.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(d.obj))
	for k := range d.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Str returns the string value and whether d holds a string.
func (d Document) Str() (string, bool) {
	return d.str, d.kind == KindString
}

// Value converts d back into plain Go values (map[string]interface{},
// []interface{}, json.Number, string, bool, nil).
func (d Document) Value() interface{} {
	switch d.kind {
	case KindBool:
		return d.b
	case KindNumber:
		return d.num
	case KindString:
		return d.str
	case KindArray:
		out := make([]interface{}, len(d.arr))
		for i, item := range d.arr {
			out[i] = item.Value()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(d.obj))
		for k, item := range d.obj {
			out[k] = item.Value()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes d with object keys in sorted order.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Value())
}

// UnmarshalJSON decodes raw JSON into d.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Decode unmarshals d into a typed Go value.
func (d Document) Decode(into interface{}) error {
	raw, err := d.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}

// numbersEqual compares numeric literals by value, so 10 and 10.0 match.
func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, ok := new(big.Rat).SetString(string(a))
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(string(b))
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}
