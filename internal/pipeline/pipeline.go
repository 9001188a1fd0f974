// Package pipeline runs the daily cycle: retrain the global model, retrain the
// private models, then forecast today from yesterday and store the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/julianstephens/daypulse/internal/constants"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/predictor"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage"
	"github.com/julianstephens/daypulse/internal/trainer"
	"github.com/julianstephens/daypulse/internal/utils"
)

// Service wires the trainer and predictor to the stores
type Service struct {
	days      storage.DayStore
	artifacts storage.ArtifactStore
	trainer   *trainer.Trainer
	predictor *predictor.Predictor
}

// New creates a Service
func New(days storage.DayStore, artifacts storage.ArtifactStore, opts trainer.Options) *Service {
	return &Service{
		days:      days,
		artifacts: artifacts,
		trainer:   trainer.New(days, artifacts, opts),
		predictor: predictor.New(artifacts, opts.Aggregator()),
	}
}

// Trainer exposes the underlying trainer for single-step commands
func (s *Service) Trainer() *trainer.Trainer {
	return s.trainer
}

// CycleOptions select what a cycle covers
type CycleOptions struct {
	// UserID limits private training and prediction to one user; empty means all users
	UserID string
	// Today is the date predictions are written for (YYYY-MM-DD)
	Today string
	// SyntheticDir adds a bulk dataset directory to the global training set
	SyntheticDir string
	Optimize     bool
}

// CycleReport summarizes a cycle
type CycleReport struct {
	GlobalTrained  bool
	GlobalSamples  int
	PrivateTrained []string
	PrivateFailed  map[string]error
	Predicted      []string
	PredictFailed  map[string]error
}

// GlobalSamples pools the stored days of every user, plus the synthetic dataset when
// dir is set
func (s *Service) GlobalSamples(ctx context.Context, dir string) (sampler.Samples, sampler.Report, error) {
	samples, report, err := s.trainer.PooledSamples(ctx)
	if err != nil {
		return sampler.Samples{}, report, err
	}
	if dir != "" {
		synthetic, srep, err := sampler.LoadSyntheticDir(dir)
		if err != nil {
			return sampler.Samples{}, report, err
		}
		logger.Info("Loaded synthetic dataset", "dir", dir, "samples", synthetic.Len())
		samples = sampler.Pool(synthetic, samples)
		report.Merge(srep)
	}
	return samples, report, nil
}

// RunCycle retrains both tiers and writes today's predictions. Not having enough data
// for a new global model is tolerated when a previous one exists.
func (s *Service) RunCycle(ctx context.Context, opts CycleOptions) (CycleReport, error) {
	report := CycleReport{
		PrivateFailed: make(map[string]error),
		PredictFailed: make(map[string]error),
	}

	samples, _, err := s.GlobalSamples(ctx, opts.SyntheticDir)
	if err != nil {
		return report, err
	}
	report.GlobalSamples = samples.Len()

	_, err = s.trainer.TrainGlobal(ctx, samples, trainer.GlobalOptions{Optimize: opts.Optimize})
	switch {
	case err == nil:
		report.GlobalTrained = true
	case errors.Is(err, perrors.ErrInsufficientData):
		if _, loadErr := s.artifacts.LoadArtifact(ctx, constants.ArtifactGlobal, ""); loadErr != nil {
			return report, err
		}
		logger.Warn("Not enough data to retrain the global model, keeping the current one")
	default:
		return report, err
	}

	users, err := s.users(ctx, opts.UserID)
	if err != nil {
		return report, err
	}

	result, err := s.trainer.TrainAllPrivate(ctx, users)
	if err != nil {
		return report, err
	}
	report.PrivateTrained = result.Trained
	report.PrivateFailed = result.Failed

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.PredictAndPersist(ctx, userID, opts.Today); err != nil {
			report.PredictFailed[userID] = err
			continue
		}
		report.Predicted = append(report.Predicted, userID)
	}

	logger.Info("Cycle finished",
		"global_trained", report.GlobalTrained, "private_trained", len(report.PrivateTrained),
		"predicted", len(report.Predicted), "prediction_failures", len(report.PredictFailed))
	return report, nil
}

func (s *Service) users(ctx context.Context, userID string) ([]string, error) {
	if userID != "" {
		return []string{userID}, nil
	}
	users, err := s.days.GetAllUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// PredictAndPersist forecasts today for one user from yesterday's record and stores
// the predictions on today's record
func (s *Service) PredictAndPersist(ctx context.Context, userID, today string) ([]models.Prediction, error) {
	yesterday, err := utils.AddDays(today, -1)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", today, err)
	}

	reference, err := s.days.GetDay(ctx, userID, yesterday)
	if err != nil {
		return nil, fmt.Errorf("no reference day for %s: %w", userID, err)
	}

	predictions, err := s.predictor.PredictNextDay(ctx, userID, reference)
	if err != nil {
		return nil, err
	}

	if err := s.days.PersistPredictions(ctx, userID, today, predictions); err != nil {
		return nil, fmt.Errorf("failed to store predictions for %s: %w", userID, err)
	}
	logger.Info("Predictions stored", "user", userID, "date", today, "slots", len(predictions))
	return predictions, nil
}

// Predict forecasts the day after date for one user without storing anything
func (s *Service) Predict(ctx context.Context, userID, date string) ([]models.Prediction, error) {
	reference, err := s.days.GetDay(ctx, userID, date)
	if err != nil {
		return nil, fmt.Errorf("no reference day for %s: %w", userID, err)
	}
	return s.predictor.PredictNextDay(ctx, userID, reference)
}
