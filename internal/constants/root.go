package constants

import "time"

// ArtifactKind distinguishes the shared model from per-user residual models
type ArtifactKind string

const (
	AppName            = "daypulse"
	DefaultKeyringUser = "database-connection"
	DefaultDataDir     = "~/.config/daypulse"
	DefaultDBName      = "daypulse.db"
	ConfigFileName     = "daypulse.toml"
	Version            = "v0.3.0"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the standard time format used throughout the application (HH:MM)
	TimeFormat = "15:04"

	// Slot constants
	MinutesPerDay      = 24 * 60
	DefaultSlotMinutes = 60
	DefaultDayStart    = "00:00"
	DefaultDayEnd      = "24:00"
	HoursPerDay        = 24

	// Task rating bounds
	MinRating = 0
	MaxRating = 10

	// Artifact kinds
	ArtifactGlobal  ArtifactKind = "global"
	ArtifactPrivate ArtifactKind = "private"

	// Training defaults
	DefaultTestRatio     = 0.2
	DefaultRidgeAlpha    = 1.0
	DefaultSearchIters   = 20
	DefaultSearchFolds   = 3
	DefaultSearchTimeout = 5 * time.Minute
	DefaultSeed          = 42
	DefaultWorkers       = 4

	// Storage boundary defaults
	DefaultStorageTimeout = 10 * time.Second
	DefaultStorageRetries = 3

	// Artifact archive constants
	MaxArchivedArtifacts = 14
	ArchiveDirName       = "artifacts"
	ArtifactFileSuffix   = ".json"

	// Training lock constants
	TrainLockfileName = "daypulse-train.lock"
)
