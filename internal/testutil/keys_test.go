package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/recstore/internal/record"
)

var _ record.KeyGenerator = (*SequentialKeys)(nil)
var _ record.KeyGenerator = FixedKey{}

func TestSequentialKeys_Sequence(t *testing.T) {
	gen := NewSequentialKeys("todo")

	assert.Equal(t, record.StringKey("todo-0001"), gen.NewKey())
	assert.Equal(t, record.StringKey("todo-0002"), gen.NewKey())
	assert.Equal(t, record.StringKey("todo-0003"), gen.NewKey())
}

func TestSequentialKeys_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequentialKeys("")
	assert.Equal(t, "key-0001", gen.NewKey().Str())
}

func TestSequentialKeys_ThreadSafe(t *testing.T) {
	gen := NewSequentialKeys("c")

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := gen.NewKey().Str()
				mu.Lock()
				seen[k] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}

func TestFixedKey(t *testing.T) {
	gen := FixedKey(record.IntKey(42))
	assert.Equal(t, record.IntKey(42), gen.NewKey())
	assert.Equal(t, record.IntKey(42), gen.NewKey())
}
