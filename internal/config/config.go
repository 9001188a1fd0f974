// Package config loads daypulse settings from a TOML file with DAYPULSE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/keyring"
	"github.com/julianstephens/daypulse/internal/storage"
	"github.com/julianstephens/daypulse/internal/trainer"
	"github.com/julianstephens/daypulse/internal/utils"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ArtifactsDatabase = "database"
	ArtifactsArchive  = "archive"

	// EnvConnString holds the PostgreSQL connection string and takes precedence over the keyring
	EnvConnString = "DAYPULSE_DB_CONNECTION"
)

// ErrNoConnString is returned when the postgres driver is selected without credentials
var ErrNoConnString = errors.New("no PostgreSQL connection string configured")

type Config struct {
	Timezone  string          `toml:"timezone"`
	Storage   StorageConfig   `toml:"storage"`
	Slots     SlotConfig      `toml:"slots"`
	Training  TrainingConfig  `toml:"training"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
}

type StorageConfig struct {
	Driver         string `toml:"driver"` // "sqlite" or "postgres"
	Path           string `toml:"path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Retries        int    `toml:"retries"`
}

type SlotConfig struct {
	Minutes  int    `toml:"minutes"`
	DayStart string `toml:"day_start"`
	DayEnd   string `toml:"day_end"`
}

type TrainingConfig struct {
	TestRatio            float64 `toml:"test_ratio"`
	RidgeAlpha           float64 `toml:"ridge_alpha"`
	SearchIterations     int     `toml:"search_iterations"`
	SearchFolds          int     `toml:"search_folds"`
	SearchTimeoutSeconds int     `toml:"search_timeout_seconds"`
	Workers              int     `toml:"workers"`
	Seed                 int64   `toml:"seed"`
	SyntheticDir         string  `toml:"synthetic_dir"`
}

type ArtifactsConfig struct {
	Store     string `toml:"store"` // "database" or "archive"
	Dir       string `toml:"dir"`
	Retention int    `toml:"retention"`
}

// DefaultConfig returns the settings used when no file exists. Paths are resolved
// against dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Timezone: "Local",
		Storage: StorageConfig{
			Driver:         DriverSQLite,
			Path:           filepath.Join(dataDir, constants.DefaultDBName),
			TimeoutSeconds: int(constants.DefaultStorageTimeout / time.Second),
			Retries:        constants.DefaultStorageRetries,
		},
		Slots: SlotConfig{
			Minutes:  constants.DefaultSlotMinutes,
			DayStart: constants.DefaultDayStart,
			DayEnd:   constants.DefaultDayEnd,
		},
		Training: TrainingConfig{
			TestRatio:            constants.DefaultTestRatio,
			RidgeAlpha:           constants.DefaultRidgeAlpha,
			SearchIterations:     constants.DefaultSearchIters,
			SearchFolds:          constants.DefaultSearchFolds,
			SearchTimeoutSeconds: int(constants.DefaultSearchTimeout / time.Second),
			Workers:              constants.DefaultWorkers,
			Seed:                 constants.DefaultSeed,
		},
		Artifacts: ArtifactsConfig{
			Store:     ArtifactsDatabase,
			Dir:       filepath.Join(dataDir, constants.ArchiveDirName),
			Retention: constants.MaxArchivedArtifacts,
		},
	}
}

// Path returns the config file location inside dataDir
func Path(dataDir string) string {
	return filepath.Join(dataDir, constants.ConfigFileName)
}

// Load reads the config at path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path, dataDir string) (*Config, error) {
	cfg := DefaultConfig(dataDir)

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, out, 0600)
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DAYPULSE_TIMEZONE":       &cfg.Timezone,
		"DAYPULSE_STORAGE_DRIVER": &cfg.Storage.Driver,
		"DAYPULSE_DB_PATH":        &cfg.Storage.Path,
		"DAYPULSE_DAY_START":      &cfg.Slots.DayStart,
		"DAYPULSE_DAY_END":        &cfg.Slots.DayEnd,
		"DAYPULSE_SYNTHETIC_DIR":  &cfg.Training.SyntheticDir,
		"DAYPULSE_ARTIFACT_STORE": &cfg.Artifacts.Store,
		"DAYPULSE_ARTIFACT_DIR":   &cfg.Artifacts.Dir,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DAYPULSE_STORAGE_TIMEOUT":    &cfg.Storage.TimeoutSeconds,
		"DAYPULSE_STORAGE_RETRIES":    &cfg.Storage.Retries,
		"DAYPULSE_SLOT_MINUTES":       &cfg.Slots.Minutes,
		"DAYPULSE_SEARCH_ITERATIONS":  &cfg.Training.SearchIterations,
		"DAYPULSE_SEARCH_FOLDS":       &cfg.Training.SearchFolds,
		"DAYPULSE_SEARCH_TIMEOUT":     &cfg.Training.SearchTimeoutSeconds,
		"DAYPULSE_WORKERS":            &cfg.Training.Workers,
		"DAYPULSE_ARTIFACT_RETENTION": &cfg.Artifacts.Retention,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"DAYPULSE_TEST_RATIO":  &cfg.Training.TestRatio,
		"DAYPULSE_RIDGE_ALPHA": &cfg.Training.RidgeAlpha,
	}
	for key, dst := range floats {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = f
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Artifacts.Store {
	case ArtifactsDatabase, ArtifactsArchive:
	default:
		return fmt.Errorf("unknown artifact store %q", c.Artifacts.Store)
	}
	if c.Slots.Minutes <= 0 || c.Slots.Minutes > constants.MinutesPerDay {
		return fmt.Errorf("slot width must be between 1 and %d minutes, got %d", constants.MinutesPerDay, c.Slots.Minutes)
	}
	if !utils.ValidateTimeFormat(c.Slots.DayStart) || !utils.ValidateTimeFormat(c.Slots.DayEnd) {
		return fmt.Errorf("invalid day window %s-%s", c.Slots.DayStart, c.Slots.DayEnd)
	}
	if c.Training.TestRatio < 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("test ratio must be in [0, 1), got %v", c.Training.TestRatio)
	}
	if c.Training.RidgeAlpha <= 0 {
		return fmt.Errorf("ridge penalty must be positive, got %v", c.Training.RidgeAlpha)
	}
	if c.Training.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Training.Workers)
	}
	if c.Storage.Retries < 1 {
		return fmt.Errorf("storage retries must be at least 1, got %d", c.Storage.Retries)
	}
	if !utils.ValidateTimezone(c.Timezone) {
		return fmt.Errorf("invalid timezone %q", c.Timezone)
	}
	return nil
}

// TrainerOptions converts the training section
func (c Config) TrainerOptions() trainer.Options {
	return trainer.Options{
		SlotMinutes: c.Slots.Minutes,
		DayStart:    c.Slots.DayStart,
		DayEnd:      c.Slots.DayEnd,
		TestRatio:   c.Training.TestRatio,
		Alpha:       c.Training.RidgeAlpha,
		Seed:        c.Training.Seed,
		Workers:     c.Training.Workers,
		Search: forecast.SearchOptions{
			Iterations: c.Training.SearchIterations,
			Folds:      c.Training.SearchFolds,
			Seed:       c.Training.Seed,
		},
		SearchTimeout: time.Duration(c.Training.SearchTimeoutSeconds) * time.Second,
	}
}

// ResilientConfig converts the storage section
func (c Config) ResilientConfig() storage.ResilientConfig {
	rc := storage.DefaultResilientConfig(c.Storage.Driver)
	rc.Timeout = time.Duration(c.Storage.TimeoutSeconds) * time.Second
	rc.Retries = c.Storage.Retries
	return rc
}

// ConnString returns the PostgreSQL connection string from the environment or the OS keyring
func ConnString() (string, error) {
	if v := os.Getenv(EnvConnString); v != "" {
		return v, nil
	}
	connStr, err := keyring.GetConnectionString()
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: set %s or run '%s keyring set'", ErrNoConnString, EnvConnString, constants.AppName)
	}
	return connStr, err
}
