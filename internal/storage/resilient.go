package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/models"
)

// ResilientConfig controls the timeout, retry and circuit breaker around a store
type ResilientConfig struct {
	Name string
	// Timeout bounds each attempt
	Timeout time.Duration
	// Retries is the maximum number of attempts per call
	Retries int
	// RetryInterval is the first backoff delay
	RetryInterval time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again
	OpenTimeout time.Duration
}

// DefaultResilientConfig returns the configuration used by the CLI
func DefaultResilientConfig(name string) ResilientConfig {
	return ResilientConfig{
		Name:             name,
		Timeout:          constants.DefaultStorageTimeout,
		Retries:          constants.DefaultStorageRetries,
		RetryInterval:    200 * time.Millisecond,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// Resilient wraps a day store and an artifact store. Every call gets its own timeout,
// transient failures are retried with exponential backoff, and a circuit breaker stops
// calling a store that keeps failing.
type Resilient struct {
	days      DayStore
	artifacts ArtifactStore
	cfg       ResilientConfig
	cb        *gobreaker.CircuitBreaker
}

// NewResilient wraps days and artifacts. Either may be nil if the caller never uses it.
func NewResilient(days DayStore, artifacts ArtifactStore, cfg ResilientConfig) *Resilient {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultStorageTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Storage circuit breaker changed state", "store", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &Resilient{days: days, artifacts: artifacts, cfg: cfg, cb: cb}
}

// State reports the circuit breaker state
func (r *Resilient) State() gobreaker.State {
	return r.cb.State()
}

func (r *Resilient) permanent(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

func call[T any](ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if r.cfg.RetryInterval > 0 {
		b.InitialInterval = r.cfg.RetryInterval
	}

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		var zero T
		attempt++
		res, err := r.cb.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
			return fn(callCtx)
		})
		if err != nil {
			if r.permanent(ctx, err) {
				return zero, backoff.Permanent(err)
			}
			logger.Debug("Storage call failed", "store", r.cfg.Name, "op", op, "attempt", attempt, "error", err)
			return zero, err
		}
		return res.(T), nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(r.cfg.Retries)))
}

func exec(ctx context.Context, r *Resilient, op string, fn func(ctx context.Context) error) error {
	_, err := call(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Resilient) GetDaySequence(ctx context.Context, userID string) ([]models.DayRecord, error) {
	return call(ctx, r, "GetDaySequence", func(ctx context.Context) ([]models.DayRecord, error) {
		return r.days.GetDaySequence(ctx, userID)
	})
}

func (r *Resilient) GetAllUserIDs(ctx context.Context) ([]string, error) {
	return call(ctx, r, "GetAllUserIDs", r.days.GetAllUserIDs)
}

func (r *Resilient) GetDay(ctx context.Context, userID, date string) (models.DayRecord, error) {
	return call(ctx, r, "GetDay", func(ctx context.Context) (models.DayRecord, error) {
		return r.days.GetDay(ctx, userID, date)
	})
}

func (r *Resilient) SaveDay(ctx context.Context, day models.DayRecord) error {
	return exec(ctx, r, "SaveDay", func(ctx context.Context) error {
		return r.days.SaveDay(ctx, day)
	})
}

func (r *Resilient) PersistPredictions(ctx context.Context, userID, date string, predictions []models.Prediction) error {
	return exec(ctx, r, "PersistPredictions", func(ctx context.Context) error {
		return r.days.PersistPredictions(ctx, userID, date, predictions)
	})
}

// DeleteUser removes the user's days and then their private artifacts when those live
// in a separate artifact store
func (r *Resilient) DeleteUser(ctx context.Context, userID string) error {
	if err := exec(ctx, r, "DeleteUser", func(ctx context.Context) error {
		return r.days.DeleteUser(ctx, userID)
	}); err != nil {
		return err
	}

	deleter, ok := r.artifacts.(UserDeleter)
	if !ok || any(r.artifacts) == any(r.days) {
		return nil
	}
	return exec(ctx, r, "DeleteUserArtifacts", func(ctx context.Context) error {
		return deleter.DeleteUser(ctx, userID)
	})
}

func (r *Resilient) LoadArtifact(ctx context.Context, kind constants.ArtifactKind, userID string) (forecast.Artifact, error) {
	return call(ctx, r, "LoadArtifact", func(ctx context.Context) (forecast.Artifact, error) {
		return r.artifacts.LoadArtifact(ctx, kind, userID)
	})
}

func (r *Resilient) SaveArtifact(ctx context.Context, artifact forecast.Artifact) error {
	return exec(ctx, r, "SaveArtifact", func(ctx context.Context) error {
		return r.artifacts.SaveArtifact(ctx, artifact)
	})
}
