package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"thesisgen/internal/infra/persistence/memory"
	"thesisgen/internal/infra/persistence/sqlite"
)

// helper to set and restore env vars
func withEnv(key, value string, fn func()) {
	orig, had := os.LookupEnv(key)
	if value == "" {
		_ = os.Unsetenv(key)
	} else {
		_ = os.Setenv(key, value)
	}
	defer func() {
		if had {
			_ = os.Setenv(key, orig)
		} else {
			_ = os.Unsetenv(key)
		}
	}()
	fn()
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.db")
	withEnv("THESISGEN_STORAGE_DRIVER", "", func() {
		withEnv("THESISGEN_SQLITE_PATH", path, func() {
			store, err := OpenPersistentStore(NewDefaultRulesEngine())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			s, ok := store.(*sqlite.Store)
			if !ok {
				t.Fatalf("expected *sqlite.Store, got %T", store)
			}
			if s.Path() != path {
				t.Fatalf("expected path %s, got %s", path, s.Path())
			}
			if _, err := s.RunInTransaction(context.Background(), func(tx Transaction) error { return nil }); err != nil {
				t.Fatalf("empty transaction: %v", err)
			}
			_ = s.Close()
		})
	})
}

func TestOpenPersistentStoreMemory(t *testing.T) {
	withEnv("THESISGEN_STORAGE_DRIVER", "memory", func() {
		store, err := OpenPersistentStore(NewDefaultRulesEngine())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok := store.(*memory.Store); !ok {
			t.Fatalf("expected *memory.Store, got %T", store)
		}
	})
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	withEnv("THESISGEN_STORAGE_DRIVER", "gibberish", func() {
		store, err := OpenPersistentStore(NewDefaultRulesEngine())
		if err == nil || store != nil {
			t.Fatalf("expected error for unknown driver, got store=%v err=%v", store, err)
		}
	})
}
