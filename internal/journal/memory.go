// Package journal provides the storage backends of the shared trial log.
//
// Every backend stores opaque records in append order and supports
// compare-and-append: a write only lands if the log end is still where the
// writer last read it. That is all the trial log needs to hand out trial
// numbers exactly once across processes.
package journal

import (
	"context"
	"fmt"
	"sync"
)

// Backend is the storage contract shared by every journal implementation
type Backend interface {
	Read(ctx context.Context, cursor int64) ([][]byte, int64, error)
	Append(ctx context.Context, expected int64, records ...[]byte) (bool, error)
	Close() error
}

// Memory keeps records in process memory. Handles from Handle share the records
// but close independently.
type Memory struct {
	store *memoryStore
}

type memoryStore struct {
	mu      sync.Mutex
	records [][]byte
}

// NewMemory creates an empty in-memory journal
func NewMemory() *Memory {
	return &Memory{store: &memoryStore{}}
}

// Handle returns another handle over the same records
func (m *Memory) Handle() *Memory {
	return &Memory{store: m.store}
}

// Read implements Backend; the cursor is the number of records already read
func (m *Memory) Read(ctx context.Context, cursor int64) ([][]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	n := int64(len(m.store.records))
	if cursor < 0 || cursor > n {
		return nil, cursor, fmt.Errorf("cursor %d out of range [0, %d]", cursor, n)
	}

	out := make([][]byte, 0, n-cursor)
	for _, rec := range m.store.records[cursor:] {
		out = append(out, append([]byte(nil), rec...))
	}
	return out, n, nil
}

// Append implements Backend
func (m *Memory) Append(ctx context.Context, expected int64, records ...[]byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	if expected >= 0 && expected != int64(len(m.store.records)) {
		return false, nil
	}
	for _, rec := range records {
		m.store.records = append(m.store.records, append([]byte(nil), rec...))
	}
	return true, nil
}

// Len returns the number of stored records
func (m *Memory) Len() int {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return len(m.store.records)
}

// Close implements Backend
func (m *Memory) Close() error {
	return nil
}
