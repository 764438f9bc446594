package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies the type of a Key.
type Kind uint8

const (
	// KindInvalid is the zero Key.
	KindInvalid Kind = iota
	// KindNumber is a float64 key. Numbers sort before strings.
	KindNumber
	// KindString is a string key.
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Errors returned while building or extracting keys.
var (
	ErrInvalidKey  = errors.New("invalid key")
	ErrMissingKey  = errors.New("record has no value at key path")
	ErrNotObject   = errors.New("record is not a JSON object")
	ErrInvalidPath = errors.New("invalid key path")
)

// Key is a record identifier: a string or a finite number.
// The zero Key is invalid and never stored.
type Key struct {
	kind Kind
	num  float64
	str  string
}

// maxSafeInteger is the largest integer a float64 holds exactly.
const maxSafeInteger = 1<<53 - 1

// StringKey returns a string key.
func StringKey(s string) Key {
	return Key{kind: KindString, str: s}
}

// NumberKey returns a number key. NaN and infinities are rejected.
func NumberKey(f float64) (Key, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Key{}, fmt.Errorf("%w: %v is not a finite number", ErrInvalidKey, f)
	}
	if f == 0 {
		f = 0 // folds -0 into 0
	}
	return Key{kind: KindNumber, num: f}, nil
}

// IntKey returns a number key for n.
func IntKey(n int64) Key {
	return Key{kind: KindNumber, num: float64(n)}
}

// KeyOf converts a decoded JSON or Go value into a Key.
func KeyOf(v any) (Key, error) {
	switch val := v.(type) {
	case Key:
		if !val.Valid() {
			return Key{}, ErrInvalidKey
		}
		return val, nil
	case string:
		return StringKey(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Key{}, fmt.Errorf("%w: %s", ErrInvalidKey, val)
		}
		return NumberKey(f)
	case float64:
		return NumberKey(val)
	case float32:
		return NumberKey(float64(val))
	case int:
		return IntKey(int64(val)), nil
	case int64:
		return IntKey(val), nil
	case int32:
		return IntKey(int64(val)), nil
	case uint64:
		return NumberKey(float64(val))
	case uint32:
		return IntKey(int64(val)), nil
	case nil:
		return Key{}, fmt.Errorf("%w: null", ErrInvalidKey)
	default:
		return Key{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidKey, v)
	}
}

// ParseKey reads a key typed on a command line. With numeric set the text
// must parse as a number; otherwise it is taken verbatim as a string key.
func ParseKey(s string, numeric bool) (Key, error) {
	if !numeric {
		return StringKey(s), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q is not a number", ErrInvalidKey, s)
	}
	return NumberKey(f)
}

// Kind returns the key's type.
func (k Key) Kind() Kind { return k.kind }

// Valid reports whether k is a usable key.
func (k Key) Valid() bool { return k.kind != KindInvalid }

// Str returns the string value of a string key.
func (k Key) Str() string { return k.str }

// Num returns the numeric value of a number key.
func (k Key) Num() float64 { return k.num }

// String renders the key for display: strings verbatim, numbers in
// shortest form.
func (k Key) String() string {
	switch k.kind {
	case KindString:
		return k.str
	case KindNumber:
		return formatNumber(k.num)
	default:
		return "<invalid>"
	}
}

// Compare orders keys: numbers first (ascending), then strings by byte
// order. The invalid key sorts before everything.
func (k Key) Compare(o Key) int {
	if k.kind != o.kind {
		if k.kind < o.kind {
			return -1
		}
		return 1
	}
	switch k.kind {
	case KindNumber:
		switch {
		case k.num < o.num:
			return -1
		case k.num > o.num:
			return 1
		}
		return 0
	case KindString:
		return strings.Compare(k.str, o.str)
	}
	return 0
}

// Equal reports whether k and o identify the same record.
func (k Key) Equal(o Key) bool {
	return k.Compare(o) == 0
}

// Normalize folds a string key to Unicode NFC. Number keys are unchanged.
func (k Key) Normalize() Key {
	if k.kind != KindString {
		return k
	}
	return StringKey(norm.NFC.String(k.str))
}

// Encode returns a text form that round-trips through DecodeKey and keeps
// number and string keys apart ("n:1" vs "s:1"). Used as hash field names.
func (k Key) Encode() string {
	switch k.kind {
	case KindNumber:
		return "n:" + formatNumber(k.num)
	case KindString:
		return "s:" + k.str
	default:
		return ""
	}
}

// DecodeKey parses the output of Key.Encode.
func DecodeKey(s string) (Key, error) {
	switch {
	case strings.HasPrefix(s, "s:"):
		return StringKey(s[2:]), nil
	case strings.HasPrefix(s, "n:"):
		f, err := strconv.ParseFloat(s[2:], 64)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
		return NumberKey(f)
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
}

// SQLValue returns the value to bind for this key in a SQL statement.
// Integral numbers bind as int64 so SQLite stores them as INTEGER.
func (k Key) SQLValue() any {
	switch k.kind {
	case KindString:
		return k.str
	case KindNumber:
		if k.num == math.Trunc(k.num) && math.Abs(k.num) <= maxSafeInteger {
			return int64(k.num)
		}
		return k.num
	default:
		return nil
	}
}

// Value returns the key as a plain Go value (string or float64).
func (k Key) Value() any {
	switch k.kind {
	case KindString:
		return k.str
	case KindNumber:
		return k.num
	default:
		return nil
	}
}

// MarshalJSON encodes a string key as a JSON string and a number key as a
// JSON number.
func (k Key) MarshalJSON() ([]byte, error) {
	switch k.kind {
	case KindString:
		return marshalCanonicalString(k.str)
	case KindNumber:
		return []byte(formatNumber(k.num)), nil
	default:
		return nil, ErrInvalidKey
	}
}

// UnmarshalJSON accepts a JSON string or number.
func (k *Key) UnmarshalJSON(data []byte) error {
	v, err := decodeJSON(data)
	if err != nil {
		return err
	}
	key, err := KeyOf(v)
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// formatNumber prints integers without exponent and everything else in the
// shortest form that round-trips.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
