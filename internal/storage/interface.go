package storage

import (
	"context"
	"errors"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/models"
)

// ErrNotFound is returned when a requested day or artifact does not exist
var ErrNotFound = errors.New("not found")

// DayStore is the persistence contract for day records
type DayStore interface {
	// GetDaySequence returns a user's days in date order. Gaps are allowed.
	GetDaySequence(ctx context.Context, userID string) ([]models.DayRecord, error)
	GetAllUserIDs(ctx context.Context) ([]string, error)
	GetDay(ctx context.Context, userID, date string) (models.DayRecord, error)
	// SaveDay upserts a day. An existing record modified more recently is kept.
	SaveDay(ctx context.Context, day models.DayRecord) error
	// PersistPredictions replaces the ML data of a day, creating the day if needed
	PersistPredictions(ctx context.Context, userID, date string, predictions []models.Prediction) error
	// DeleteUser removes all of a user's days and private models
	DeleteUser(ctx context.Context, userID string) error
}

// ArtifactStore is the persistence contract for trained models. Saving replaces the
// current artifact of the same kind and user atomically.
type ArtifactStore interface {
	LoadArtifact(ctx context.Context, kind constants.ArtifactKind, userID string) (forecast.Artifact, error)
	SaveArtifact(ctx context.Context, artifact forecast.Artifact) error
}

// UserDeleter is implemented by stores that hold per-user data
type UserDeleter interface {
	DeleteUser(ctx context.Context, userID string) error
}

// Stats summarizes what a store holds
type Stats struct {
	Users            int
	Days             int
	GlobalArtifacts  int
	PrivateArtifacts int
}

// Provider is a database-backed store with a lifecycle
type Provider interface {
	DayStore
	ArtifactStore

	// Init creates the database and applies all migrations
	Init(ctx context.Context) error
	// Connect opens an existing database without checking its schema version
	Connect(ctx context.Context) error
	// Load opens an existing database and checks its schema version
	Load(ctx context.Context) error
	// Migrate applies pending migrations and returns how many ran
	Migrate(ctx context.Context, logFn func(string)) (int, error)
	Close() error

	Stats(ctx context.Context) (Stats, error)

	// Location returns a non-sensitive description of where data lives
	Location() string
}
