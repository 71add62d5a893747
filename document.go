package sessionware

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
)

// Document is a tracked view over a JSON object inside the session payload.
//
// Reads never dirty the session. Every write marks the data field dirty
// before it is applied. Nested objects and arrays are returned as tracked
// views too, so deep writes are observed as well; leaf values are returned
// unwrapped.
type Document struct {
	owner  *Session
	values map[string]any
}

// List is a tracked view over a JSON array inside the session payload.
type List struct {
	owner *Session
	load  func() []any
	store func([]any)
}

// Get returns the value stored under key. Objects come back as *Document
// and arrays as *List.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	if !ok {
		return nil, false
	}
	return d.wrap(key, v), true
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

func (d *Document) Len() int { return len(d.values) }

// Keys returns the keys in sorted order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Doc returns the nested object stored under key.
func (d *Document) Doc(key string) (*Document, bool) {
	m, ok := d.values[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return &Document{owner: d.owner, values: m}, true
}

// List returns the nested array stored under key.
func (d *Document) List(key string) (*List, bool) {
	if _, ok := d.values[key].([]any); !ok {
		return nil, false
	}
	return d.listAt(key), true
}

// Ensure returns the nested object stored under key, creating an empty
// one first when key is missing or does not hold an object.
func (d *Document) Ensure(key string) *Document {
	if sub, ok := d.Doc(key); ok {
		return sub
	}
	m := make(map[string]any)
	d.Set(key, m)
	return &Document{owner: d.owner, values: m}
}

// Set stores value under key.
func (d *Document) Set(key string, value any) {
	d.owner.markChanged(FieldData)
	d.values[key] = unwrap(value)
}

// Delete removes key.
func (d *Document) Delete(key string) {
	d.owner.markChanged(FieldData)
	delete(d.values, key)
}

// String returns the string stored under key.
func (d *Document) String(key string) (string, bool) {
	s, ok := d.values[key].(string)
	return s, ok
}

// Bool returns the boolean stored under key.
func (d *Document) Bool(key string) (bool, bool) {
	b, ok := d.values[key].(bool)
	return b, ok
}

// Int returns the integer stored under key. Floats without a fractional
// part and decoded JSON numbers are converted.
func (d *Document) Int(key string) (int64, bool) {
	return toInt(d.values[key])
}

// Float returns the number stored under key as a float64.
func (d *Document) Float(key string) (float64, bool) {
	return toFloat(d.values[key])
}

// MarshalJSON encodes the underlying object.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.values)
}

func (d *Document) wrap(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		return &Document{owner: d.owner, values: t}
	case []any:
		return d.listAt(key)
	}
	return v
}

func (d *Document) listAt(key string) *List {
	return &List{
		owner: d.owner,
		load: func() []any {
			l, _ := d.values[key].([]any)
			return l
		},
		store: func(l []any) { d.values[key] = l },
	}
}

func (l *List) Len() int { return len(l.load()) }

// Get returns the element at index i. Objects come back as *Document and
// arrays as *List.
func (l *List) Get(i int) (any, bool) {
	items := l.load()
	if i < 0 || i >= len(items) {
		return nil, false
	}
	switch t := items[i].(type) {
	case map[string]any:
		return &Document{owner: l.owner, values: t}, true
	case []any:
		return l.listAt(i), true
	}
	return items[i], true
}

// Doc returns the object at index i.
func (l *List) Doc(i int) (*Document, bool) {
	v, ok := l.Get(i)
	if !ok {
		return nil, false
	}
	doc, ok := v.(*Document)
	return doc, ok
}

// Set stores value at index i, growing the array with nulls when i is past
// the end. Negative indexes are rejected.
func (l *List) Set(i int, value any) bool {
	if i < 0 {
		return false
	}
	l.owner.markChanged(FieldData)
	items := l.load()
	if i >= len(items) {
		items = append(items, make([]any, i-len(items)+1)...)
	}
	items[i] = unwrap(value)
	l.store(items)
	return true
}

// Append adds values to the end of the array.
func (l *List) Append(values ...any) {
	l.owner.markChanged(FieldData)
	items := l.load()
	for _, v := range values {
		items = append(items, unwrap(v))
	}
	l.store(items)
}

// MarshalJSON encodes the underlying array.
func (l *List) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.load())
}

func (l *List) listAt(i int) *List {
	return &List{
		owner: l.owner,
		load: func() []any {
			items := l.load()
			if i >= len(items) {
				return nil
			}
			sub, _ := items[i].([]any)
			return sub
		},
		store: func(sub []any) {
			items := l.load()
			if i < len(items) {
				items[i] = sub
			}
		},
	}
}

// unwrap turns tracked views back into the raw containers they cover, so a
// view can be stored somewhere else in the payload. Any other non-scalar
// value, typed Go maps, slices and structs included, is rebuilt as the
// map[string]any and []any tree it decodes to after a reload, so later
// reads hand out tracked views instead of a raw container that could be
// mutated unseen.
func unwrap(v any) any {
	switch t := v.(type) {
	case *Document:
		return t.values
	case *List:
		return t.load()
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	}
	return normalize(v)
}

// normalize round-trips v through JSON. Values JSON cannot encode are kept
// as they are; saving the session reports the error.
func normalize(v any) any {
	buf := getBuffer()
	defer PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return v
	}
	dec := json.NewDecoder(buf)
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
