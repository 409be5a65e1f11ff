// Package redisstore keeps tail cursors in Redis so a node whose local disk
// is ephemeral can resume where it stopped.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/konstpic/marznode-stats/tail"
)

// CursorStore implements tail.CursorStore on top of a Redis client.
type CursorStore struct {
	client *redis.Client
	prefix string
}

// NewCursorStore returns a store writing keys under prefix.
func NewCursorStore(client *redis.Client, prefix string) *CursorStore {
	return &CursorStore{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *CursorStore) key(path string) string {
	return s.prefix + "cursor:" + path
}

// LoadCursor implements tail.CursorStore. A value that does not decode is
// reported as an error so the tailer falls back to the start of the file.
func (s *CursorStore) LoadCursor(ctx context.Context, path string) (tail.Cursor, bool, error) {
	data, err := s.client.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tail.Cursor{}, false, nil
	}
	if err != nil {
		return tail.Cursor{}, false, err
	}

	var c tail.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return tail.Cursor{}, false, fmt.Errorf("decode cursor %s: %w", path, err)
	}
	return c, true, nil
}

// SaveCursor implements tail.CursorStore.
func (s *CursorStore) SaveCursor(ctx context.Context, c tail.Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(c.Path), data, 0).Err()
}

// DeleteCursor implements tail.CursorStore.
func (s *CursorStore) DeleteCursor(ctx context.Context, path string) error {
	return s.client.Del(ctx, s.key(path)).Err()
}
