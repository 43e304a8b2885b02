package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"thesisgen/pkg/domain"
)

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	var project domain.Project
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var e error
		project, e = tx.SaveProject(domain.Project{OwnerID: "owner-1", Title: "Persisted Thesis"})
		if e != nil {
			return e
		}
		_, e = tx.CreateSource(domain.Source{ProjectID: project.ID, Title: "Survey Paper"})
		return e
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	got, ok := reloaded.GetProject("owner-1")
	if !ok {
		t.Fatalf("expected project to survive reload")
	}
	if got.ID != project.ID || got.Title != "Persisted Thesis" {
		t.Fatalf("unexpected reloaded project: %+v", got)
	}
	if sources := reloaded.ListSources(project.ID); len(sources) != 1 {
		t.Fatalf("expected 1 source after reload, got %d", len(sources))
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var name string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", "state").Scan(&name); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if name != "state" {
		t.Fatalf("expected state table, got %q", name)
	}
}

func TestSQLiteStoreSkipsPersistOnAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, e := tx.SaveProject(domain.Project{OwnerID: "owner-1", Title: "Doomed"}); e != nil {
			return e
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatalf("expected aborted transaction to surface error")
	}
	var bucket string
	row := store.DB().QueryRow("SELECT bucket FROM state WHERE bucket='projects'")
	if scanErr := row.Scan(&bucket); scanErr == nil {
		t.Fatalf("expected no snapshot persisted after aborted transaction")
	}
}
