package journal

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendWithRetry appends one record with compare-and-append, retrying on conflict
func appendWithRetry(t *testing.T, b Backend, rec []byte) {
	t.Helper()
	ctx := context.Background()
	var cursor int64
	for {
		_, next, err := b.Read(ctx, cursor)
		require.NoError(t, err)
		cursor = next
		ok, err := b.Append(ctx, cursor, rec)
		require.NoError(t, err)
		if ok {
			return
		}
	}
}

func TestMemory_ReadAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	records, cursor, err := m.Read(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int64(0), cursor)

	ok, err := m.Append(ctx, 0, []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.True(t, ok)

	records, cursor, err = m.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, records)
	assert.Equal(t, int64(2), cursor)

	records, cursor, err = m.Read(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int64(2), cursor)
}

func TestMemory_CompareAndAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	other := m.Handle()

	ok, err := m.Append(ctx, 0, []byte("first"))
	require.NoError(t, err)
	require.True(t, ok)

	// Stale writer loses
	ok, err = other.Append(ctx, 0, []byte("stale"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Unconditional append always lands
	ok, err = other.Append(ctx, -1, []byte("forced"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, m.Len())
}

func TestMemory_CursorOutOfRange(t *testing.T) {
	_, _, err := NewMemory().Read(context.Background(), 3)
	assert.Error(t, err)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Append(ctx, -1, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_RecordsAreCopied(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := []byte("abc")

	_, err := m.Append(ctx, -1, rec)
	require.NoError(t, err)
	rec[0] = 'z'

	records, _, err := m.Read(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(records[0]))
}

func TestMemory_ConcurrentHandles(t *testing.T) {
	m := NewMemory()
	const writers, perWriter = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h := m.Handle()
			for i := 0; i < perWriter; i++ {
				appendWithRetry(t, h, []byte(fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	records, _, err := m.Read(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, writers*perWriter)

	seen := make(map[string]bool)
	for _, rec := range records {
		assert.False(t, seen[string(rec)], "duplicate record %s", rec)
		seen[string(rec)] = true
	}
}
