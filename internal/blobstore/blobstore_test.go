package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func exercise(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Put(ctx, "documents/a.png", strings.NewReader("png-bytes"), 9, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := store.Exists(ctx, "documents/a.png"); !ok || err != nil {
		t.Fatalf("exists: %v %v", ok, err)
	}
	data, err := store.Get(ctx, "documents/a.png")
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("get: %q %v", data, err)
	}
	if err := store.Put(ctx, "documents/a.png", strings.NewReader("again"), 5, "image/png"); err == nil {
		t.Fatalf("overwriting a key should fail")
	}
	if err := store.Delete(ctx, "documents/a.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "documents/a.png"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("second delete should report ErrNotExist, got %v", err)
	}
	if _, err := store.Get(ctx, "documents/a.png"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("get after delete should report ErrNotExist, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestLocal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	exercise(t, store)
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	for _, key := range []string{"../etc/passwd", "/abs/path", ".."} {
		if err := store.Put(context.Background(), key, strings.NewReader("x"), 1, ""); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}
