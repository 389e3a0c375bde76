package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// File is a newline-delimited journal file guarded by an advisory flock. Each
// process opens its own File; the lock serialises appends across all of them.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFile opens or creates the journal file at path
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the journal file path
func (j *File) Path() string {
	return j.path
}

// Read implements Backend; the cursor is a byte offset
func (j *File) Read(ctx context.Context, cursor int64) ([][]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.lock(unix.LOCK_SH); err != nil {
		return nil, cursor, err
	}
	defer j.unlock()

	size, err := j.size()
	if err != nil {
		return nil, cursor, err
	}
	if cursor > size {
		return nil, cursor, fmt.Errorf("cursor %d beyond journal size %d", cursor, size)
	}
	if cursor == size {
		return nil, cursor, nil
	}

	buf := make([]byte, size-cursor)
	if _, err := j.f.ReadAt(buf, cursor); err != nil && !errors.Is(err, io.EOF) {
		return nil, cursor, fmt.Errorf("failed to read journal: %w", err)
	}

	// A trailing partial line is left for the next read
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return nil, cursor, nil
	}

	var records [][]byte
	for _, line := range bytes.Split(buf[:end], []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		records = append(records, line)
	}
	return records, cursor + int64(end) + 1, nil
}

// Append implements Backend
func (j *File) Append(ctx context.Context, expected int64, records ...[]byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.lock(unix.LOCK_EX); err != nil {
		return false, err
	}
	defer j.unlock()

	if expected >= 0 {
		size, err := j.size()
		if err != nil {
			return false, err
		}
		if size != expected {
			return false, nil
		}
	}

	var buf bytes.Buffer
	for _, rec := range records {
		if bytes.IndexByte(rec, '\n') >= 0 {
			return false, fmt.Errorf("journal record contains a newline")
		}
		buf.Write(rec)
		buf.WriteByte('\n')
	}

	if _, err := j.f.Write(buf.Bytes()); err != nil {
		return false, fmt.Errorf("failed to append to journal: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return false, fmt.Errorf("failed to sync journal: %w", err)
	}
	return true, nil
}

// Close implements Backend
func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// RemoveFile deletes a journal file, ignoring a file that is already gone
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove journal file: %w", err)
	}
	log.Debug().Str("path", path).Msg("Removed journal file")
	return nil
}

func (j *File) size() (int64, error) {
	info, err := j.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat journal: %w", err)
	}
	return info.Size(), nil
}

func (j *File) lock(how int) error {
	for {
		err := unix.Flock(int(j.f.Fd()), how)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("failed to lock journal: %w", err)
		}
	}
}

func (j *File) unlock() {
	if err := unix.Flock(int(j.f.Fd()), unix.LOCK_UN); err != nil {
		log.Warn().Err(err).Str("path", j.path).Msg("Failed to unlock journal")
	}
}
