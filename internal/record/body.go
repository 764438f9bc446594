package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultKeyPath is the identifier field used when a collection names none.
const DefaultKeyPath = "id"

// Encode marshals v with encoding/json and returns its canonical body.
// v must encode to a JSON object.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, ErrNotObject
	}
	return marshalCanonical(doc)
}

// Decode unmarshals a stored body into v.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// Document is a decoded record body.
type Document map[string]any

// ParseDocument decodes a body that must be a JSON object. Numbers decode
// as json.Number.
func ParseDocument(body []byte) (Document, error) {
	v, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Document(obj), nil
}

// Lookup returns the value at a dotted path.
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set stores v at a dotted path, creating intermediate objects.
// It fails if an intermediate value exists and is not an object.
func (d Document) Set(path string, v any) error {
	segs := strings.Split(path, ".")
	cur := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q is not an object", ErrInvalidPath, seg)
		}
		cur = child
	}
	cur[segs[len(segs)-1]] = v
	return nil
}

// Key extracts the record key at path.
func (d Document) Key(path string) (Key, error) {
	v, ok := d.Lookup(path)
	if !ok {
		return Key{}, fmt.Errorf("%w %q", ErrMissingKey, path)
	}
	switch v.(type) {
	case string, json.Number, float64:
	default:
		return Key{}, fmt.Errorf("%w: value at %q is %T, want string or number", ErrInvalidKey, path, v)
	}
	return KeyOf(v)
}

// Canonical encodes the document in canonical form.
func (d Document) Canonical() ([]byte, error) {
	return marshalCanonical(map[string]any(d))
}

// ExtractKey decodes body and returns the key found at path.
func ExtractKey(body []byte, path string) (Key, error) {
	doc, err := ParseDocument(body)
	if err != nil {
		return Key{}, err
	}
	return doc.Key(path)
}

// ValidateKeyPath checks that path is a non-empty dotted field path.
func ValidateKeyPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return nil
}
