// Package payload provides read-only access to case payloads. A case payload
// is an arbitrary decoded JSON object whose shape has changed over time; the
// accessors here never panic on missing or mistyped fields and simply report
// absence instead.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload wraps a decoded case document. The zero value is an empty payload.
type Payload struct {
	root map[string]interface{}
}

// New wraps an already decoded document. The map is never mutated.
func New(root map[string]interface{}) Payload {
	return Payload{root: root}
}

// Parse decodes raw JSON into a Payload. Numbers are kept as json.Number so
// epoch timestamps survive without float rounding.
func Parse(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root map[string]interface{}
	if err := dec.Decode(&root); err != nil {
		return Payload{}, fmt.Errorf("decode case payload: %w", err)
	}
	return Payload{root: root}, nil
}

// UnmarshalJSON lets a Payload be embedded directly in request bodies.
func (p *Payload) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON writes the wrapped document back out unchanged.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.root == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.root)
}

// Raw returns the underlying document.
func (p Payload) Raw() map[string]interface{} { return p.root }

// Get walks path through nested objects and returns the value found.
func (p Payload) Get(path ...string) (interface{}, bool) {
	var cur interface{} = p.root
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok || obj == nil {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Object returns the nested object at path, or nil.
func (p Payload) Object(path ...string) map[string]interface{} {
	v, ok := p.Get(path...)
	if !ok {
		return nil
	}
	obj, _ := v.(map[string]interface{})
	return obj
}

// List returns the array at path, or nil.
func (p Payload) List(path ...string) []interface{} {
	v, ok := p.Get(path...)
	if !ok {
		return nil
	}
	list, _ := v.([]interface{})
	return list
}

// String returns the value at path rendered as a string; absent values and
// empty strings both report false.
func (p Payload) String(path ...string) (string, bool) {
	v, ok := p.Get(path...)
	if !ok {
		return "", false
	}
	s := Stringify(v)
	return s, s != ""
}

// Stringify renders scalar values as strings. Objects and arrays yield "".
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return fmt.Sprintf("%v", t)
	case int, int64, int32:
		return fmt.Sprintf("%d", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// IsEmpty reports whether v counts as missing: nil, blank string, or an
// empty array/object.
func IsEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
