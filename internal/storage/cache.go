package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
)

// ArtifactCache keeps the most recently loaded or saved artifacts in memory. Cached
// artifacts are swapped as whole snapshots so readers never see a half-written model.
type ArtifactCache struct {
	store   ArtifactStore
	global  atomic.Pointer[forecast.Artifact]
	private sync.Map // user ID -> *forecast.Artifact
}

// NewArtifactCache wraps store with an in-memory snapshot cache
func NewArtifactCache(store ArtifactStore) *ArtifactCache {
	return &ArtifactCache{store: store}
}

func (c *ArtifactCache) cached(kind constants.ArtifactKind, userID string) *forecast.Artifact {
	if kind == constants.ArtifactGlobal {
		return c.global.Load()
	}
	if v, ok := c.private.Load(userID); ok {
		return v.(*forecast.Artifact)
	}
	return nil
}

func (c *ArtifactCache) put(a forecast.Artifact) {
	if a.Kind == constants.ArtifactGlobal {
		c.global.Store(&a)
		return
	}
	c.private.Store(a.UserID, &a)
}

// LoadArtifact returns the cached artifact or loads it from the underlying store.
// Misses are not cached.
func (c *ArtifactCache) LoadArtifact(ctx context.Context, kind constants.ArtifactKind, userID string) (forecast.Artifact, error) {
	if a := c.cached(kind, userID); a != nil {
		return *a, nil
	}
	a, err := c.store.LoadArtifact(ctx, kind, userID)
	if err != nil {
		return forecast.Artifact{}, err
	}
	c.put(a)
	return a, nil
}

// SaveArtifact writes through to the store and then replaces the cached snapshot
func (c *ArtifactCache) SaveArtifact(ctx context.Context, a forecast.Artifact) error {
	if err := c.store.SaveArtifact(ctx, a); err != nil {
		return err
	}
	c.put(a)
	return nil
}

// DeleteUser deletes the user through the underlying store and drops their cached
// private artifact
func (c *ArtifactCache) DeleteUser(ctx context.Context, userID string) error {
	defer c.Invalidate(constants.ArtifactPrivate, userID)
	deleter, ok := c.store.(UserDeleter)
	if !ok {
		return fmt.Errorf("artifact store cannot delete users")
	}
	return deleter.DeleteUser(ctx, userID)
}

// Invalidate drops one cached artifact so the next load goes to the store
func (c *ArtifactCache) Invalidate(kind constants.ArtifactKind, userID string) {
	if kind == constants.ArtifactGlobal {
		c.global.Store(nil)
		return
	}
	c.private.Delete(userID)
}

// Reset drops every cached artifact
func (c *ArtifactCache) Reset() {
	c.global.Store(nil)
	c.private.Clear()
}
