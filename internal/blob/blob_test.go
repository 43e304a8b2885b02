package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func testStorePutGet(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	info, err := store.Put(ctx, "drafts/uid-1/methodology.md", strings.NewReader("first draft"), PutOptions{ContentType: "text/markdown"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("first draft")) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	// overwrite under the same key
	if _, err := store.Put(ctx, "drafts/uid-1/methodology.md", strings.NewReader("revised draft"), PutOptions{ContentType: "text/markdown"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, rc, err := store.Get(ctx, "drafts/uid-1/methodology.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "revised draft" {
		t.Fatalf("expected overwrite to win, got %q", data)
	}
	if got.ContentType != "text/markdown" {
		t.Fatalf("unexpected content type %q", got.ContentType)
	}

	infos, err := store.List(ctx, "drafts/uid-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected one blob, got %d", len(infos))
	}

	if _, err := store.Head(ctx, "drafts/uid-1/methodology.md"); err != nil {
		t.Fatalf("head: %v", err)
	}

	deleted, err := store.Delete(ctx, "drafts/uid-1/methodology.md")
	if err != nil || !deleted {
		t.Fatalf("delete: %v deleted=%v", err, deleted)
	}
	if deleted, err := store.Delete(ctx, "drafts/uid-1/methodology.md"); err != nil || deleted {
		t.Fatalf("second delete should be a no-op, got %v deleted=%v", err, deleted)
	}
	if _, err := store.Head(ctx, "drafts/uid-1/methodology.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemStore(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	testStorePutGet(t, store)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	if store.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	testStorePutGet(t, store)
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "../escape", "/absolute", "a/../../b"} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("expected rejection for %q", key)
		}
	}
	if clean, err := sanitizeKey("exports/board.csv"); err != nil || clean != "exports/board.csv" {
		t.Fatalf("unexpected result %q %v", clean, err)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	t.Setenv("THESISGEN_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}

	t.Setenv("THESISGEN_BLOB_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
