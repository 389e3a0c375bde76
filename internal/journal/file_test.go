package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFile_ReadAppend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.log")
	j := openTestFile(t, path)
	assert.Equal(t, path, j.Path())

	ok, err := j.Append(ctx, 0, []byte(`{"op":"header"}`), []byte(`{"op":"create"}`))
	require.NoError(t, err)
	require.True(t, ok)

	records, cursor, err := j.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"op":"header"}`, string(records[0]))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), cursor)

	// A stale cursor loses the race
	ok, err = j.Append(ctx, 0, []byte(`{"op":"claim"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = j.Append(ctx, cursor, []byte(`{"op":"claim"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	records, _, err = j.Read(ctx, cursor)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, `{"op":"claim"}`, string(records[0]))
}

func TestFile_PartialTrailingLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthr"), 0o644))

	j := openTestFile(t, path)
	records, cursor, err := j.Read(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(len("one\ntwo\n")), cursor)

	records, next, err := j.Read(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, cursor, next)
}

func TestFile_RejectsNewlineInRecord(t *testing.T) {
	j := openTestFile(t, filepath.Join(t.TempDir(), "run.log"))
	_, err := j.Append(context.Background(), -1, []byte("a\nb"))
	assert.Error(t, err)
}

func TestFile_CursorBeyondEnd(t *testing.T) {
	j := openTestFile(t, filepath.Join(t.TempDir(), "run.log"))
	_, _, err := j.Read(context.Background(), 10)
	assert.Error(t, err)
}

func TestFile_SharedAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	const writers, perWriter = 4, 20

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		h := openTestFile(t, path)
		wg.Add(1)
		go func(w int, h *File) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				appendWithRetry(t, h, []byte(fmt.Sprintf("w%d-%d", w, i)))
			}
		}(w, h)
	}
	wg.Wait()

	records, _, err := openTestFile(t, path).Read(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, writers*perWriter)
}

func TestRemoveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	require.NoError(t, RemoveFile(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is not an error
	assert.NoError(t, RemoveFile(path))
}
