// Package document defines the JSON documents shared between the railway
// subsystems and the value-level operations every writer must agree on:
// decoding, canonical encoding, deep merge and comparison.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"slices"
	"strings"
)

var (
	ErrNotObject = errors.New("not a json object")
	ErrEmpty     = errors.New("empty content")
	ErrBadPath   = errors.New("malformed field path")
)

// Document is a whole-file JSON object. Nested objects are always stored as
// map[string]any.
type Document map[string]any

// Decode parses data into a Document. Numbers are kept as json.Number so that
// values survive a decode/encode cycle unchanged.
func Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: trailing data after top-level value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode: %w", ErrNotObject)
	}
	return Document(obj), nil
}

// Encode returns the canonical encoding shared by every writer: keys sorted at
// every level, two-space indentation and a trailing newline.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Object returns v as a json object if it is one.
func Object(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case Document:
		return map[string]any(obj), true
	}
	return nil, false
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneObject(d))
}

func cloneObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep copies a decoded json value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneObject(val)
	case Document:
		return cloneObject(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = CloneValue(val[i])
		}
		return out
	}
	return v
}

// Entities returns the sorted keys of the document.
func (d Document) Entities() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Entity returns the entity record stored under id if it is an object.
func (d Document) Entity(id string) (map[string]any, bool) {
	return Object(d[id])
}

// Merge returns a copy of base with patch applied. Objects are merged
// recursively, any other value in the patch replaces the value in base.
// Keys absent from the patch are never touched.
func Merge(base, patch Document) Document {
	out := base.Clone()
	if out == nil {
		out = Document{}
	}
	mergeInto(out, patch)
	return out
}

func mergeInto(dst, patch map[string]any) {
	for k, pv := range patch {
		pobj, pok := Object(pv)
		if pok {
			if dobj, dok := Object(dst[k]); dok {
				mergeInto(dobj, pobj)
				dst[k] = dobj
				continue
			}
		}
		dst[k] = CloneValue(pv)
	}
}

// Equal reports whether two decoded json values are the same. Numbers compare
// exactly by value regardless of their Go representation, so integers beyond
// float64 precision stay distinct.
func Equal(a, b any) bool {
	if an, ok := a.(json.Number); ok {
		if bn, ok := b.(json.Number); ok && an == bn {
			return true
		}
	}
	if ar, ok := number(a); ok {
		br, ok := number(b)
		return ok && ar.Cmp(br) == 0
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	ao, aok := Object(a)
	bo, bok := Object(b)
	if !aok || !bok || len(ao) != len(bo) {
		return false
	}
	for k, v := range ao {
		w, ok := bo[k]
		if !ok || !Equal(v, w) {
			return false
		}
	}
	return true
}

func number(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case json.Number:
		return new(big.Rat).SetString(string(n))
	case float64:
		r := new(big.Rat).SetFloat64(n)
		return r, r != nil
	case float32:
		r := new(big.Rat).SetFloat64(float64(n))
		return r, r != nil
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case int32:
		return new(big.Rat).SetInt64(int64(n)), true
	case uint:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Rat).SetUint64(n), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(n)), true
	}
	return nil, false
}

// FieldPath addresses one field inside one section of an entity record.
type FieldPath struct {
	Section string
	Field   string
}

// ParsePath parses "section.field".
func ParsePath(s string) (FieldPath, error) {
	section, field, ok := strings.Cut(s, ".")
	if !ok || section == "" || field == "" || strings.Contains(field, ".") {
		return FieldPath{}, fmt.Errorf("%w: %q", ErrBadPath, s)
	}
	return FieldPath{Section: section, Field: field}, nil
}

func (p FieldPath) String() string {
	return p.Section + "." + p.Field
}

// Lookup returns the value at path inside entity, if both the section and the
// field are present.
func Lookup(entity map[string]any, path FieldPath) (any, bool) {
	section, ok := Object(entity[path.Section])
	if !ok {
		return nil, false
	}
	v, ok := section[path.Field]
	return v, ok
}
