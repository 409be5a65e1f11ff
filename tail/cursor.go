package tail

import (
	"context"
	"sync"
	"time"
)

// Cursor marks how much of an access log has been consumed. Dev and Inode
// identify the file the offset belongs to.
type Cursor struct {
	Path      string
	Dev       uint64
	Inode     uint64
	Offset    int64
	Size      int64
	UpdatedAt time.Time
}

// SameFile reports whether the cursor was taken on the file identified by id.
func (c Cursor) SameFile(id FileID) bool {
	return c.Dev == id.Dev && c.Inode == id.Inode
}

// CursorStore persists cursors across restarts.
type CursorStore interface {
	// LoadCursor returns the stored cursor for path; found is false when
	// nothing has been stored yet.
	LoadCursor(ctx context.Context, path string) (c Cursor, found bool, err error)
	SaveCursor(ctx context.Context, c Cursor) error
	DeleteCursor(ctx context.Context, path string) error
}

// MemoryCursorStore keeps cursors in process memory only.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]Cursor
}

// NewMemoryCursorStore returns an empty in-memory store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]Cursor)}
}

func (s *MemoryCursorStore) LoadCursor(_ context.Context, path string) (Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[path]
	return c, ok, nil
}

func (s *MemoryCursorStore) SaveCursor(_ context.Context, c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[c.Path] = c
	return nil
}

func (s *MemoryCursorStore) DeleteCursor(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, path)
	return nil
}
