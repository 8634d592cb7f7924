// Package schemadoc operates on JSON-Schema-like documents held as plain
// decoded JSON (maps, slices and scalars): composition by deep merge,
// property exclusion, structural diffs and a validator for the subset of
// JSON Schema used by classifier schemas.
package schemadoc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Document is a decoded JSON object.
type Document = map[string]any

// Clone returns a deep copy of a decoded JSON value.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	default:
		return v
	}
}

// CloneDocument deep-copies doc. A nil document clones to an empty one.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return Document{}
	}
	return Clone(doc).(map[string]any)
}

// Canonical serializes v with sorted object keys. Two values are
// structurally equal when their canonical forms are equal.
func Canonical(v any) ([]byte, error) {
	// encoding/json already emits map keys in sorted order.
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return b, nil
}

// Equal reports whether a and b have the same canonical form.
func Equal(a, b any) bool {
	ca, errA := Canonical(a)
	cb, errB := Canonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ca) == string(cb)
}

// Fingerprint is a stable content hash of doc.
func Fingerprint(doc Document) string {
	b, err := Canonical(doc)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Properties returns the "properties" object of doc, or nil.
func Properties(doc Document) map[string]any {
	props, _ := doc["properties"].(map[string]any)
	return props
}

// Required returns the "required" list of doc as strings. Non-string
// entries are ignored.
func Required(doc Document) []string {
	var out []string
	switch list := doc["required"].(type) {
	case []any:
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
