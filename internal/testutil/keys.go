// Package testutil holds deterministic helpers shared by tests.
package testutil

import (
	"fmt"
	"sync/atomic"

	"github.com/roach88/recstore/internal/record"
)

// SequentialKeys issues string keys "<prefix>-0001", "<prefix>-0002", ...
//
// It stands in for record.UUIDGenerator where output must be reproducible.
// Safe for concurrent use; concurrent callers get distinct keys.
type SequentialKeys struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialKeys creates a generator. An empty prefix defaults to "key".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeys{prefix: prefix}
}

// NewKey implements record.KeyGenerator.
func (g *SequentialKeys) NewKey() record.Key {
	return record.StringKey(fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1)))
}

// FixedKey always issues the same key.
type FixedKey record.Key

// NewKey implements record.KeyGenerator.
func (k FixedKey) NewKey() record.Key {
	return record.Key(k)
}
