package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Document is a JSON object that preserves key insertion order. Answer
// payloads have no fixed schema, and Go maps would scramble the field
// ordering the reviewers' output depends on, so the order is carried
// explicitly alongside the values.
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument returns an empty ordered document.
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// Set stores a value under key, appending the key on first insert.
func (d *Document) Set(key string, value any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	if d == nil || d.values == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order. The caller must not mutate
// the returned slice.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return d.keys
}

// Len returns the number of keys.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// MarshalJSON writes the object with keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, capturing key order from the wire form.
// Nested objects decode as *Document so ordering survives at every level;
// arrays decode as []any.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document: expected object, got %v", tok)
	}

	doc, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// decodeObject consumes object members up to and including the closing
// brace. The opening brace must already have been consumed.
func decodeObject(dec *json.Decoder) (*Document, error) {
	doc := NewDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("document: expected string key, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		doc.Set(key, val)
	}
	// Closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			var arr []any
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if arr == nil {
				arr = []any{}
			}
			return arr, nil
		default:
			return nil, fmt.Errorf("document: unexpected delimiter %v", t)
		}
	default:
		return tok, nil
	}
}

// KeyOrderFromAnswer captures the field ordering of an answer payload:
// the top-level keys, plus the keys of the first object element of the
// first array value found in top-key order.
func KeyOrderFromAnswer(answer *Document) KeyOrder {
	if answer == nil {
		return KeyOrder{}
	}
	ko := KeyOrder{TopKeys: append([]string(nil), answer.Keys()...)}
	for _, k := range answer.Keys() {
		v, _ := answer.Get(k)
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		if item, ok := arr[0].(*Document); ok {
			ko.ItemKeys = append([]string(nil), item.Keys()...)
			break
		}
	}
	return ko
}

// CanonicalJSON renders a value with all object keys sorted, independent
// of insertion order. Used for content hashing so two payloads with the
// same fields in different order hash identically.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case *Document:
		keys := append([]string(nil), t.Keys()...)
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			val, _ := t.Get(k)
			if err := writeCanonical(buf, val); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
