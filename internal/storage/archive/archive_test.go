package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage"
)

var _ storage.ArtifactStore = (*Archive)(nil)

func globalAt(t time.Time, cp float64) forecast.Artifact {
	a := forecast.NewGlobal(forecast.Constant(sampler.Target{cp, 0.5}), forecast.Metrics{})
	a.TrainedAt = t
	return a
}

func TestSaveAndLoadArtifact(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir())

	if _, err := a.LoadArtifact(ctx, constants.ArtifactGlobal, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("LoadArtifact on empty archive error = %v, want ErrNotFound", err)
	}

	global := globalAt(time.Date(2025, 2, 16, 3, 0, 0, 0, time.UTC), 0.5)
	if err := a.SaveArtifact(ctx, global); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	private := forecast.NewPrivate("team/alice", global.Version, forecast.Constant(sampler.Target{0.1, -0.05}), forecast.Metrics{})
	if err := a.SaveArtifact(ctx, private); err != nil {
		t.Fatalf("SaveArtifact(private) failed: %v", err)
	}

	loaded, err := a.LoadArtifact(ctx, constants.ArtifactGlobal, "")
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if loaded.Version != global.Version {
		t.Errorf("loaded version = %s, want %s", loaded.Version, global.Version)
	}

	lp, err := a.LoadArtifact(ctx, constants.ArtifactPrivate, "team/alice")
	if err != nil {
		t.Fatalf("LoadArtifact(private) failed: %v", err)
	}
	if !lp.Matches(global) {
		t.Error("private artifact lost its global version")
	}

	users, err := a.Users()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != "team/alice" {
		t.Errorf("Users = %v, want [team/alice]", users)
	}

	if err := a.SaveArtifact(ctx, forecast.Artifact{}); err == nil {
		t.Error("SaveArtifact should reject an invalid artifact")
	}
}

func TestLoadArtifactRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	path := filepath.Join(dir, string(constants.ArtifactGlobal), currentFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := a.LoadArtifact(context.Background(), constants.ArtifactGlobal, "")
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadArtifact error = %v, want a decode error", err)
	}
}

func TestArchiveRotation(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir())
	a.MaxHistory = 3

	base := time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)
	var saved []forecast.Artifact
	for i := 0; i < 5; i++ {
		art := globalAt(base.AddDate(0, 0, i), 0.1*float64(i))
		if err := a.SaveArtifact(ctx, art); err != nil {
			t.Fatalf("SaveArtifact %d failed: %v", i, err)
		}
		saved = append(saved, art)
	}

	entries, err := a.List(constants.ArtifactGlobal, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 archived versions after rotation, got %d", len(entries))
	}
	// Newest first, oldest two rotated out
	if entries[0].Version != saved[4].Version || entries[2].Version != saved[2].Version {
		t.Errorf("unexpected archive order: %v, %v", entries[0].Version, entries[2].Version)
	}
	for _, e := range entries {
		if e.Size == 0 {
			t.Errorf("archived file %s is empty", e.Path)
		}
	}
}

func TestListEmpty(t *testing.T) {
	a := New(t.TempDir())
	entries, err := a.List(constants.ArtifactPrivate, "nobody")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir())
	if err := a.SaveArtifact(ctx, globalAt(time.Now().UTC(), 0.5)); err != nil {
		t.Fatal(err)
	}

	historyDir := filepath.Join(a.Dir(), string(constants.ArtifactGlobal), historyDirName)
	for _, name := range []string{"notes.txt", "garbage.json", "20250101T000000.000000000Z-nope.json"} {
		if err := os.WriteFile(filepath.Join(historyDir, name), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := a.List(constants.ArtifactGlobal, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir())

	first := globalAt(time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC), 0.4)
	second := globalAt(time.Date(2025, 2, 2, 3, 0, 0, 0, time.UTC), 0.6)
	for _, art := range []forecast.Artifact{first, second} {
		if err := a.SaveArtifact(ctx, art); err != nil {
			t.Fatal(err)
		}
	}

	restored, err := a.Rollback(ctx, constants.ArtifactGlobal, "", first.Version)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if restored.Version != first.Version {
		t.Errorf("restored version = %s, want %s", restored.Version, first.Version)
	}

	current, err := a.LoadArtifact(ctx, constants.ArtifactGlobal, "")
	if err != nil {
		t.Fatal(err)
	}
	if current.Version != first.Version {
		t.Errorf("current version after rollback = %s, want %s", current.Version, first.Version)
	}

	// History is left intact so the rollback can itself be undone
	entries, err := a.List(constants.ArtifactGlobal, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 archived versions, got %d", len(entries))
	}

	if _, err := a.Rollback(ctx, constants.ArtifactGlobal, "", uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Rollback to unknown version error = %v, want ErrNotFound", err)
	}
}

func TestNoTemporaryFilesLeft(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir())
	for i := 0; i < 3; i++ {
		if err := a.SaveArtifact(ctx, globalAt(time.Now().UTC().Add(time.Duration(i)*time.Second), 0.5)); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(a.Dir(), "*", ".tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	history, err := filepath.Glob(filepath.Join(a.Dir(), "*", historyDirName, ".tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches)+len(history) != 0 {
		t.Errorf("temporary files left behind: %v %v", matches, history)
	}
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	a := New(t.TempDir())

	global := globalAt(time.Date(2025, 2, 16, 3, 0, 0, 0, time.UTC), 0.5)
	for _, art := range []forecast.Artifact{
		global,
		forecast.NewPrivate("alice", global.Version, forecast.Constant(sampler.Target{0.1, 0.1}), forecast.Metrics{}),
		forecast.NewPrivate("bob", global.Version, forecast.Constant(sampler.Target{0.2, 0.2}), forecast.Metrics{}),
	} {
		if err := a.SaveArtifact(ctx, art); err != nil {
			t.Fatal(err)
		}
	}

	if err := a.DeleteUser(ctx, "alice"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := a.LoadArtifact(ctx, constants.ArtifactPrivate, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("alice artifact error = %v, want ErrNotFound", err)
	}
	if entries, err := a.List(constants.ArtifactPrivate, "alice"); err != nil || len(entries) != 0 {
		t.Errorf("alice history = %v, %v", entries, err)
	}
	if _, err := a.LoadArtifact(ctx, constants.ArtifactPrivate, "bob"); err != nil {
		t.Errorf("bob artifact removed: %v", err)
	}
	if _, err := a.LoadArtifact(ctx, constants.ArtifactGlobal, ""); err != nil {
		t.Errorf("global artifact removed: %v", err)
	}

	if err := a.DeleteUser(ctx, "alice"); err != nil {
		t.Errorf("deleting a missing user should succeed: %v", err)
	}
	if err := a.DeleteUser(ctx, ""); err == nil {
		t.Error("expected an error for an empty user ID")
	}
}

func TestDotUserIDsStayInsideUserDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a := New(root)

	global := globalAt(time.Date(2025, 2, 16, 3, 0, 0, 0, time.UTC), 0.5)
	if err := a.SaveArtifact(ctx, global); err != nil {
		t.Fatal(err)
	}
	for _, user := range []string{".", ".."} {
		private := forecast.NewPrivate(user, global.Version, forecast.Constant(sampler.Target{0.1, 0.1}), forecast.Metrics{})
		if err := a.SaveArtifact(ctx, private); err != nil {
			t.Fatalf("SaveArtifact(%q) failed: %v", user, err)
		}
		loaded, err := a.LoadArtifact(ctx, constants.ArtifactPrivate, user)
		if err != nil || loaded.UserID != user {
			t.Errorf("LoadArtifact(%q) = %q, %v", user, loaded.UserID, err)
		}
	}

	if _, err := os.Stat(filepath.Join(root, currentFileName)); !os.IsNotExist(err) {
		t.Error("artifact written to the archive root")
	}
	if _, err := os.Stat(filepath.Join(root, string(constants.ArtifactPrivate), currentFileName)); !os.IsNotExist(err) {
		t.Error("artifact written to the private directory itself")
	}

	users, err := a.Users()
	if err != nil || len(users) != 2 || users[0] != "." || users[1] != ".." {
		t.Errorf("Users() = %v, %v", users, err)
	}

	if err := a.DeleteUser(ctx, ".."); err != nil {
		t.Fatal(err)
	}
	if _, err := a.LoadArtifact(ctx, constants.ArtifactGlobal, ""); err != nil {
		t.Errorf("deleting user %q removed the global artifact: %v", "..", err)
	}
	if _, err := a.LoadArtifact(ctx, constants.ArtifactPrivate, "."); err != nil {
		t.Errorf("deleting user %q removed user %q: %v", "..", ".", err)
	}
}
