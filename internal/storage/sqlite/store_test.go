package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/julianstephens/daypulse/internal/storage"
	"github.com/julianstephens/daypulse/internal/storage/storagetest"
)

var _ storage.Provider = (*Store)(nil)

func setupTestStore(t *testing.T) (*Store, func()) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store := NewStore(dbPath)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	return store, func() { store.Close() }
}

func TestStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	storagetest.Run(t, store)
}

func TestInitIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	ctx := context.Background()

	first := NewStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	first.Close()

	second := NewStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	defer second.Close()

	n, err := second.Migrate(ctx, nil)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Migrate applied %d migrations on an up-to-date database", n)
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("uninitialized", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "missing.db"))
		err := store.Load(ctx)
		if err == nil || !strings.Contains(err.Error(), "init") {
			t.Errorf("Load on missing database error = %v", err)
		}
	})

	t.Run("initialized", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")
		initStore := NewStore(dbPath)
		if err := initStore.Init(ctx); err != nil {
			t.Fatal(err)
		}
		initStore.Close()

		store := NewStore(dbPath)
		if err := store.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		defer store.Close()
		if store.Location() != dbPath {
			t.Errorf("Location() = %q, want %q", store.Location(), dbPath)
		}
		if _, err := os.Stat(dbPath); err != nil {
			t.Errorf("database file missing: %v", err)
		}
	})
}
