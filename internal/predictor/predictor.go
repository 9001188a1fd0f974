// Package predictor turns a reference day into hourly CP/PE forecasts for the next day.
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/julianstephens/daypulse/internal/aggregator"
	"github.com/julianstephens/daypulse/internal/constants"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage"
)

// Predictor composes the global model and an optional private residual model
type Predictor struct {
	artifacts storage.ArtifactStore
	extractor *features.Extractor
}

// New creates a Predictor reading models from artifacts. agg rebuilds the task load
// of reference days stored without an aggregate.
func New(artifacts storage.ArtifactStore, agg *aggregator.Aggregator) *Predictor {
	return &Predictor{
		artifacts: artifacts,
		extractor: features.New(agg),
	}
}

// Combine adds the private residual to the global prediction. A nil private model
// yields the global prediction unchanged.
func Combine(global, private forecast.Predictor, x features.Vector) sampler.Target {
	y := global.Predict(x)
	if private == nil {
		return y
	}
	r := private.Predict(x)
	for k := range y {
		y[k] += r[k]
	}
	return y
}

// Clamp limits v to [0, 1]
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// HourlySlots returns the 24 canonical hour slot keys of a day
func HourlySlots() []string {
	slots := make([]string, constants.HoursPerDay)
	for h := range slots {
		slots[h] = aggregator.HourlySlotKey(h)
	}
	return slots
}

// PredictNextDay forecasts every hour of the day after reference. On any failure it
// returns an empty slice together with the cause; output is never partial.
func (p *Predictor) PredictNextDay(ctx context.Context, userID string, reference models.DayRecord) ([]models.Prediction, error) {
	global, err := p.artifacts.LoadArtifact(ctx, constants.ArtifactGlobal, "")
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = fmt.Errorf("user %s: %w", userID, perrors.ErrMissingArtifact)
		}
		logger.Warn("Cannot predict without a global model", "user", userID, "error", err)
		return []models.Prediction{}, err
	}

	private := p.privateFor(ctx, userID, global)

	slots := HourlySlots()
	vectors, err := p.extractor.ExtractSlots(reference, slots)
	if err != nil {
		logger.Warn("Cannot extract features from reference day", "user", userID, "date", reference.Date, "error", err)
		return []models.Prediction{}, err
	}

	predictions := make([]models.Prediction, len(slots))
	for i, x := range vectors {
		y := Combine(global, private, x)
		predictions[i] = models.Prediction{
			TimeSlot: slots[i],
			CP:       Clamp(y[0]),
			PE:       Clamp(y[1]),
		}
	}
	return predictions, nil
}

// privateFor returns the user's private model when it was trained against global,
// otherwise nil
func (p *Predictor) privateFor(ctx context.Context, userID string, global forecast.Artifact) forecast.Predictor {
	private, err := p.artifacts.LoadArtifact(ctx, constants.ArtifactPrivate, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Debug("No private model, using global only", "user", userID)
		return nil
	case err != nil:
		logger.Warn("Failed to load private model, using global only", "user", userID, "error", err)
		return nil
	case !private.Matches(global):
		logger.Warn("Private model was trained against another global model, using global only",
			"user", userID, "private_global", private.GlobalVersion, "global", global.Version)
		return nil
	}
	return private
}
