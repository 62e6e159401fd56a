package wire

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownHandle  = errors.New("handle not registered")
	ErrHandleMismatch = errors.New("handle tag does not match entry")
)

type tableEntry[T any] struct {
	tag   byte
	value T
}

// Table resolves handles to local objects. Indices are never reused, so a
// stale handle fails the lookup instead of reaching a newer entry, and the
// tag recorded at registration must match the tag of the handle presented.
type Table[T any] struct {
	mu      sync.RWMutex
	next    uint64
	entries map[uint64]tableEntry[T]
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{next: 1, entries: make(map[uint64]tableEntry[T])}
}

// Register stores v under a new index and returns its handle.
func (t *Table[T]) Register(tag byte, v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.next
	t.next++
	t.entries[idx] = tableEntry[T]{tag: BaseTag(tag), value: v}
	return Handle{Tag: tag, Index: idx}
}

// Lookup returns the entry addressed by h after checking its tag.
func (t *Table[T]) Lookup(h Handle) (T, error) {
	t.mu.RLock()
	e, ok := t.entries[h.Index]
	t.mu.RUnlock()
	var zero T
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if e.tag != BaseTag(h.Tag) {
		return zero, fmt.Errorf("%w: %s registered as %c", ErrHandleMismatch, h, e.tag)
	}
	return e.value, nil
}

// Remove forgets h.
func (t *Table[T]) Remove(h Handle) {
	t.mu.Lock()
	delete(t.entries, h.Index)
	t.mu.Unlock()
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
