// Package tail incrementally reads an append-only access log, remembering the
// consumed offset across restarts and detecting rotation by file identity.
package tail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/konstpic/marznode-stats/logger"
)

// DefaultMaxBatchBytes bounds how much of the log a single Poll reads.
const DefaultMaxBatchBytes = 4 << 20

// IOError reports that the log file could not be read. Pollers log it and try
// again on the next tick.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("tail %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Tailer reads complete lines appended to a file since the last commit.
type Tailer struct {
	path     string
	store    CursorStore
	maxBatch int64

	mu       sync.Mutex
	cursor   Cursor
	loaded   bool
	skipping bool // discarding the rest of an oversized line
}

// New returns a Tailer for path persisting its cursor in store. A
// non-positive maxBatchBytes selects DefaultMaxBatchBytes.
func New(path string, store CursorStore, maxBatchBytes int) *Tailer {
	if store == nil {
		store = NewMemoryCursorStore()
	}
	if maxBatchBytes <= 0 {
		maxBatchBytes = DefaultMaxBatchBytes
	}
	return &Tailer{
		path:     path,
		store:    store,
		maxBatch: int64(maxBatchBytes),
		cursor:   Cursor{Path: path},
	}
}

// Path returns the tailed file path.
func (t *Tailer) Path() string {
	return t.path
}

// Cursor returns a copy of the current cursor.
func (t *Tailer) Cursor() Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// Reset forgets the stored position so the next Poll starts at offset 0.
func (t *Tailer) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = Cursor{Path: t.path}
	t.loaded = true
	t.skipping = false
	return t.store.DeleteCursor(ctx, t.path)
}

// Poll hands every complete line appended since the last commit to handle.
// The cursor advances, and is persisted, only when handle returns nil; a
// trailing line without a terminator is held back until it is complete.
// A line longer than the batch limit is discarded whole and never reaches
// handle. It returns the number of bytes the cursor advanced; zero means
// there is nothing more to read for now.
func (t *Tailer) Poll(ctx context.Context, handle func(lines []string) error) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.loadCursor(ctx)

	f, err := os.Open(t.path)
	if err != nil {
		return 0, &IOError{Op: "open", Path: t.path, Err: err}
	}
	defer f.Close()

	id, size, err := identify(f)
	if err != nil {
		return 0, &IOError{Op: "stat", Path: t.path, Err: err}
	}

	if !t.cursor.SameFile(id) || size < t.cursor.Offset {
		if t.cursor.Offset > 0 {
			if t.cursor.SameFile(id) {
				logger.Infof("access log %s truncated (size %d < offset %d), reading from start", t.path, size, t.cursor.Offset)
			} else {
				logger.Infof("access log %s rotated, reading new file from start", t.path)
			}
		}
		t.cursor = Cursor{Path: t.path, Dev: id.Dev, Inode: id.Inode, Size: size}
		t.skipping = false
		t.saveCursor(ctx)
	}

	if size == t.cursor.Offset {
		return 0, nil
	}

	want := size - t.cursor.Offset
	if want > t.maxBatch {
		want = t.maxBatch
	}
	buf := make([]byte, want)
	n, err := f.ReadAt(buf, t.cursor.Offset)
	if err != nil && err != io.EOF {
		return 0, &IOError{Op: "read", Path: t.path, Err: err}
	}
	buf = buf[:n]

	if t.skipping {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return t.advance(ctx, int64(n), size), nil
		}
		t.skipping = false
		return t.advance(ctx, int64(i+1), size), nil
	}

	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		if int64(n) < t.maxBatch {
			return 0, nil
		}
		// a line longer than the batch limit would stall the cursor forever
		logger.Warningf("access log %s: discarding a line longer than %d bytes", t.path, t.maxBatch)
		t.skipping = true
		return t.advance(ctx, int64(n), size), nil
	}
	consumed := buf[:end+1]

	lines := splitLines(consumed)
	if len(lines) > 0 {
		if err := handle(lines); err != nil {
			return 0, err
		}
	}

	return t.advance(ctx, int64(len(consumed)), size), nil
}

// advance commits n consumed bytes. Callers hold t.mu.
func (t *Tailer) advance(ctx context.Context, n, size int64) int64 {
	t.cursor.Offset += n
	t.cursor.Size = size
	t.saveCursor(ctx)
	return n
}

func (t *Tailer) loadCursor(ctx context.Context) {
	if t.loaded {
		return
	}
	t.loaded = true

	c, found, err := t.store.LoadCursor(ctx, t.path)
	switch {
	case err != nil:
		logger.Warningf("failed to load cursor for %s, reading from start: %v", t.path, err)
	case !found:
		logger.Debugf("no stored cursor for %s", t.path)
	case c.Offset < 0:
		logger.Warningf("stored cursor for %s has negative offset, reading from start", t.path)
	default:
		c.Path = t.path
		t.cursor = c
		logger.Infof("resuming %s at offset %d", t.path, c.Offset)
	}
}

func (t *Tailer) saveCursor(ctx context.Context) {
	t.cursor.UpdatedAt = time.Now()
	if err := t.store.SaveCursor(ctx, t.cursor); err != nil {
		logger.Warningf("failed to persist cursor for %s: %v", t.path, err)
	}
}

// splitLines splits newline terminated data, trimming CR and skipping blanks.
func splitLines(data []byte) []string {
	lines := make([]string, 0, bytes.Count(data, []byte{'\n'}))
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		var line []byte
		if i < 0 {
			line, data = data, nil
		} else {
			line, data = data[:i], data[i+1:]
		}
		line = bytes.TrimRight(line, "\r")
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}
