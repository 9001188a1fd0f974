// Package archive stores model artifacts as JSON files and keeps a bounded history
// of previous versions for rollback.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/storage"
)

const (
	historyDirName  = "history"
	stampLayout     = "20060102T150405.000000000Z"
	currentFileName = "current" + constants.ArtifactFileSuffix
)

// Entry describes one archived artifact version
type Entry struct {
	Path      string
	Kind      constants.ArtifactKind
	UserID    string
	Version   uuid.UUID
	TrainedAt time.Time
	Size      int64
}

// Archive is a file-backed artifact store. Each (kind, user) has a current file that is
// replaced by rename, plus up to MaxHistory older versions.
type Archive struct {
	root       string
	MaxHistory int
}

// New creates an archive rooted at dir
func New(dir string) *Archive {
	return &Archive{root: dir, MaxHistory: constants.MaxArchivedArtifacts}
}

// Dir returns the archive root
func (a *Archive) Dir() string {
	return a.root
}

func (a *Archive) keyDir(kind constants.ArtifactKind, userID string) string {
	if kind == constants.ArtifactGlobal {
		return filepath.Join(a.root, string(kind))
	}
	return filepath.Join(a.root, string(kind), escapeUser(userID))
}

// escapeUser maps a user ID to a single path element. Dot-only IDs are percent-encoded
// so they never resolve to the current or parent directory.
func escapeUser(userID string) string {
	escaped := url.PathEscape(userID)
	if strings.Trim(escaped, ".") == "" {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

// DeleteUser removes the user's current private artifact and its history
func (a *Archive) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("user ID is required")
	}
	if err := os.RemoveAll(a.keyDir(constants.ArtifactPrivate, userID)); err != nil {
		return fmt.Errorf("failed to delete archived artifacts for %s: %w", userID, err)
	}
	return nil
}

func (a *Archive) LoadArtifact(ctx context.Context, kind constants.ArtifactKind, userID string) (forecast.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return forecast.Artifact{}, err
	}
	path := filepath.Join(a.keyDir(kind, userID), currentFileName)
	art, err := readArtifact(path)
	if errors.Is(err, os.ErrNotExist) {
		return forecast.Artifact{}, fmt.Errorf("%s artifact: %w", kind, storage.ErrNotFound)
	}
	return art, err
}

func readArtifact(path string) (forecast.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return forecast.Artifact{}, err
	}
	var art forecast.Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to decode artifact %s: %w", filepath.Base(path), err)
	}
	if err := art.Validate(); err != nil {
		return forecast.Artifact{}, err
	}
	return art, nil
}

// SaveArtifact records the artifact in history and then swaps it in as current
func (a *Archive) SaveArtifact(ctx context.Context, art forecast.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := art.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	dir := a.keyDir(art.Kind, art.UserID)
	historyDir := filepath.Join(dir, historyDirName)
	if err := os.MkdirAll(historyDir, 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := art.TrainedAt.UTC().Format(stampLayout) + "-" + art.Version.String() + constants.ArtifactFileSuffix
	if err := writeAtomic(filepath.Join(historyDir, name), data); err != nil {
		return fmt.Errorf("failed to archive artifact: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, currentFileName), data); err != nil {
		return fmt.Errorf("failed to activate artifact: %w", err)
	}

	if err := a.rotate(art.Kind, art.UserID); err != nil {
		logger.Warn("Failed to rotate archived artifacts", "kind", art.Kind, "user", art.UserID, "error", err)
	}
	return nil
}

// writeAtomic writes to a temporary file in the target directory and renames it into place
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			logger.Warn("Failed to remove temporary file", "path", tmpPath, "error", removeErr)
		}
		return err
	}
	return nil
}

// List returns the archived versions for a kind and user, newest first
func (a *Archive) List(kind constants.ArtifactKind, userID string) ([]Entry, error) {
	historyDir := filepath.Join(a.keyDir(kind, userID), historyDirName)
	entries, err := os.ReadDir(historyDir)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var out []Entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), constants.ArtifactFileSuffix) {
			continue
		}
		stamp, version, ok := parseName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Path:      filepath.Join(historyDir, e.Name()),
			Kind:      kind,
			UserID:    userID,
			Version:   version,
			TrainedAt: stamp,
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TrainedAt.After(out[j].TrainedAt)
	})
	return out, nil
}

func parseName(name string) (time.Time, uuid.UUID, bool) {
	base := strings.TrimSuffix(name, constants.ArtifactFileSuffix)
	stampStr, versionStr, ok := strings.Cut(base, "-")
	if !ok {
		return time.Time{}, uuid.Nil, false
	}
	stamp, err := time.Parse(stampLayout, stampStr)
	if err != nil {
		return time.Time{}, uuid.Nil, false
	}
	version, err := uuid.Parse(versionStr)
	if err != nil {
		return time.Time{}, uuid.Nil, false
	}
	return stamp, version, true
}

// Users returns the users that have private artifacts in the archive
func (a *Archive) Users() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.root, string(constants.ArtifactPrivate)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}
	var users []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		user, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}

func (a *Archive) rotate(kind constants.ArtifactKind, userID string) error {
	if a.MaxHistory <= 0 {
		return nil
	}
	entries, err := a.List(kind, userID)
	if err != nil {
		return err
	}
	for i := a.MaxHistory; i < len(entries); i++ {
		if err := os.Remove(entries[i].Path); err != nil {
			return fmt.Errorf("failed to remove old artifact %s: %w", filepath.Base(entries[i].Path), err)
		}
	}
	return nil
}

// Rollback makes an archived version current again. It returns the restored artifact.
func (a *Archive) Rollback(ctx context.Context, kind constants.ArtifactKind, userID string, version uuid.UUID) (forecast.Artifact, error) {
	entries, err := a.List(kind, userID)
	if err != nil {
		return forecast.Artifact{}, err
	}
	for _, e := range entries {
		if e.Version != version {
			continue
		}
		art, err := readArtifact(e.Path)
		if err != nil {
			return forecast.Artifact{}, fmt.Errorf("archived artifact is corrupted or invalid: %w", err)
		}
		data, err := json.MarshalIndent(art, "", "  ")
		if err != nil {
			return forecast.Artifact{}, err
		}
		if err := ctx.Err(); err != nil {
			return forecast.Artifact{}, err
		}
		if err := writeAtomic(filepath.Join(a.keyDir(kind, userID), currentFileName), data); err != nil {
			return forecast.Artifact{}, fmt.Errorf("failed to restore artifact: %w", err)
		}
		return art, nil
	}
	return forecast.Artifact{}, fmt.Errorf("%s artifact version %s: %w", kind, version, storage.ErrNotFound)
}
