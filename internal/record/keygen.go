package record

import "github.com/google/uuid"

// KeyGenerator produces keys for records that arrive without one.
type KeyGenerator interface {
	NewKey() Key
}

// UUIDGenerator issues UUIDv7 string keys, which sort by creation time.
type UUIDGenerator struct{}

// NewKey implements KeyGenerator.
func (UUIDGenerator) NewKey() Key {
	return StringKey(uuid.Must(uuid.NewV7()).String())
}
