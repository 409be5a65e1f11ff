package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/konstpic/marznode-stats/tail"
)

func newStore(t *testing.T) (*CursorStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewCursorStore(client, "test:"), mr
}

func TestCursorRoundTrip(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	if _, found, err := store.LoadCursor(ctx, "/log/access.log"); err != nil || found {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}

	c := tail.Cursor{Path: "/log/access.log", Dev: 1, Inode: 2, Offset: 3, Size: 4, UpdatedAt: time.Unix(1700000000, 0).UTC()}
	if err := store.SaveCursor(ctx, c); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:cursor:/log/access.log") {
		t.Fatal("key not written under prefix")
	}

	got, found, err := store.LoadCursor(ctx, c.Path)
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if got.Offset != 3 || got.Inode != 2 || !got.UpdatedAt.Equal(c.UpdatedAt) {
		t.Fatalf("cursor = %+v", got)
	}

	if err := store.DeleteCursor(ctx, c.Path); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("test:cursor:/log/access.log") {
		t.Fatal("key survived delete")
	}
}

func TestCorruptCursorIsAnError(t *testing.T) {
	store, mr := newStore(t)
	if err := mr.Set("test:cursor:/log/access.log", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.LoadCursor(context.Background(), "/log/access.log"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Fatal("expected dial error")
	}
}
