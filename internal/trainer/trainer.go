// Package trainer fits the global model over pooled users and the per-user residual
// models on top of it.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/julianstephens/daypulse/internal/aggregator"
	"github.com/julianstephens/daypulse/internal/constants"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/predictor"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage"
)

// Options are the training settings
type Options struct {
	SlotMinutes   int
	// DayStart and DayEnd bound schedules that carry no window of their own
	DayStart      string
	DayEnd        string
	TestRatio     float64
	Alpha         float64
	Seed          int64
	Workers       int
	Search        forecast.SearchOptions
	SearchTimeout time.Duration
}

// DefaultOptions returns the built-in training settings
func DefaultOptions() Options {
	return Options{
		SlotMinutes: constants.DefaultSlotMinutes,
		DayStart:    constants.DefaultDayStart,
		DayEnd:      constants.DefaultDayEnd,
		TestRatio:   constants.DefaultTestRatio,
		Alpha:       constants.DefaultRidgeAlpha,
		Seed:        constants.DefaultSeed,
		Workers:     constants.DefaultWorkers,
		Search: forecast.SearchOptions{
			Iterations: constants.DefaultSearchIters,
			Folds:      constants.DefaultSearchFolds,
			Seed:       constants.DefaultSeed,
		},
		SearchTimeout: constants.DefaultSearchTimeout,
	}
}

// Aggregator returns the slot aggregator described by the options
func (o Options) Aggregator() *aggregator.Aggregator {
	return aggregator.New(o.SlotMinutes).WithWindow(o.DayStart, o.DayEnd)
}

// GlobalOptions are per-run switches for global training
type GlobalOptions struct {
	// Optimize runs the penalty search before the final fit
	Optimize bool
}

// Trainer produces artifacts from day records and stores them
type Trainer struct {
	days      storage.DayStore
	artifacts storage.ArtifactStore
	sampler   *sampler.Sampler
	opts      Options
}

// New creates a Trainer
func New(days storage.DayStore, artifacts storage.ArtifactStore, opts Options) *Trainer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Alpha <= 0 {
		opts.Alpha = constants.DefaultRidgeAlpha
	}
	return &Trainer{
		days:      days,
		artifacts: artifacts,
		sampler:   sampler.New(opts.Aggregator()),
		opts:      opts,
	}
}

// UserSamples builds the training pairs of one user from stored days
func (t *Trainer) UserSamples(ctx context.Context, userID string) (sampler.Samples, sampler.Report, error) {
	days, err := t.days.GetDaySequence(ctx, userID)
	if err != nil {
		return sampler.Samples{}, sampler.Report{}, fmt.Errorf("failed to load days for %s: %w", userID, err)
	}
	samples, report := t.sampler.Pairs(days)
	return samples, report, nil
}

// PooledSamples builds training pairs for every stored user and concatenates them
func (t *Trainer) PooledSamples(ctx context.Context) (sampler.Samples, sampler.Report, error) {
	users, err := t.days.GetAllUserIDs(ctx)
	if err != nil {
		return sampler.Samples{}, sampler.Report{}, fmt.Errorf("failed to list users: %w", err)
	}

	var (
		sets   []sampler.Samples
		report sampler.Report
	)
	for _, userID := range users {
		s, r, err := t.UserSamples(ctx, userID)
		if err != nil {
			return sampler.Samples{}, report, err
		}
		sets = append(sets, s)
		report.Merge(r)
	}
	return sampler.Pool(sets...), report, nil
}

// TrainGlobal fits the shared model on pooled samples and saves it. The held-out
// metrics are logged and recorded but never block the save.
func (t *Trainer) TrainGlobal(ctx context.Context, samples sampler.Samples, opts GlobalOptions) (forecast.Artifact, error) {
	if samples.Len() == 0 {
		return forecast.Artifact{}, fmt.Errorf("global model: %w", perrors.ErrInsufficientData)
	}

	rng := rand.New(rand.NewSource(t.opts.Seed))
	trainIdx, testIdx := forecast.ShuffledSplit(samples.Len(), t.opts.TestRatio, rng)
	train, test := samples.Subset(trainIdx), samples.Subset(testIdx)

	alpha := t.opts.Alpha
	if opts.Optimize {
		best, err := t.search(ctx, train)
		if err != nil {
			return forecast.Artifact{}, err
		}
		alpha = best
	}

	p, err := forecast.Fit(train, alpha)
	if err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to fit global model: %w", err)
	}

	metrics := forecast.Evaluate(p, test)
	metrics.TrainSize = train.Len()
	logger.Info("Global model trained",
		"samples", samples.Len(), "train", metrics.TrainSize, "test", metrics.TestSize, "alpha", alpha,
		"mae_cp", metrics.MAE[0], "mae_pe", metrics.MAE[1], "r2_cp", metrics.R2[0], "r2_pe", metrics.R2[1])

	artifact := forecast.NewGlobal(p, metrics)
	if err := t.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to save global model: %w", err)
	}
	return artifact, nil
}

// search returns the best penalty, or the configured one when the search cannot run.
// Only cancellation of the caller's context is an error.
func (t *Trainer) search(ctx context.Context, train sampler.Samples) (float64, error) {
	searchCtx := ctx
	if t.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, t.opts.SearchTimeout)
		defer cancel()
	}

	res, err := forecast.Search(searchCtx, train, t.opts.Search)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logger.Warn("Hyperparameter search failed, using configured penalty", "alpha", t.opts.Alpha, "error", err)
		return t.opts.Alpha, nil
	}
	return res.Alpha, nil
}

// TrainPrivate fits a residual model for one user on top of the current global model.
// Samples must be in chronological order.
func (t *Trainer) TrainPrivate(ctx context.Context, userID string, samples sampler.Samples) (forecast.Artifact, error) {
	global, err := t.artifacts.LoadArtifact(ctx, constants.ArtifactGlobal, "")
	if errors.Is(err, storage.ErrNotFound) {
		return forecast.Artifact{}, fmt.Errorf("private model for %s: %w", userID, perrors.ErrOrdering)
	}
	if err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to load global model: %w", err)
	}
	if samples.Len() == 0 {
		return forecast.Artifact{}, fmt.Errorf("private model for %s: %w", userID, perrors.ErrInsufficientData)
	}

	residuals := sampler.Samples{X: samples.X, Y: make([]sampler.Target, samples.Len())}
	for i, x := range samples.X {
		g := global.Predict(x)
		for k := range g {
			residuals.Y[i][k] = samples.Y[i][k] - g[k]
		}
	}

	trainIdx, testIdx := forecast.ChronologicalSplit(samples.Len(), t.opts.TestRatio)
	p, err := forecast.Fit(residuals.Subset(trainIdx), t.opts.Alpha)
	if err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to fit private model for %s: %w", userID, err)
	}

	metrics := forecast.Evaluate(combined{global: global.Pipeline, private: p}, samples.Subset(testIdx))
	metrics.TrainSize = len(trainIdx)
	logger.Info("Private model trained",
		"user", userID, "samples", samples.Len(), "test", metrics.TestSize,
		"combined_mae_cp", metrics.MAE[0], "combined_mae_pe", metrics.MAE[1])

	artifact := forecast.NewPrivate(userID, global.Version, p, metrics)
	if err := t.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return forecast.Artifact{}, fmt.Errorf("failed to save private model for %s: %w", userID, err)
	}
	return artifact, nil
}

// combined scores the global and residual models together
type combined struct {
	global, private forecast.Pipeline
}

func (c combined) Predict(x features.Vector) sampler.Target {
	return predictor.Combine(c.global, c.private, x)
}

// Result is the outcome of a batch of private trainings
type Result struct {
	Trained []string
	Failed  map[string]error
}

// TrainAllPrivate retrains the private model of each user with a bounded worker pool.
// A failing user is logged and reported and does not stop the others.
func (t *Trainer) TrainAllPrivate(ctx context.Context, userIDs []string) (Result, error) {
	if _, err := t.artifacts.LoadArtifact(ctx, constants.ArtifactGlobal, ""); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, perrors.ErrOrdering
		}
		return Result{}, fmt.Errorf("failed to load global model: %w", err)
	}

	var (
		mu     sync.Mutex
		result = Result{Failed: make(map[string]error)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Workers)
	for _, userID := range userIDs {
		g.Go(func() error {
			err := t.trainUser(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("Private training failed", "user", userID, "error", err)
				result.Failed[userID] = err
				return nil
			}
			result.Trained = append(result.Trained, userID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Strings(result.Trained)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	logger.Info("Private training finished", "trained", len(result.Trained), "failed", len(result.Failed))
	return result, nil
}

func (t *Trainer) trainUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	samples, _, err := t.UserSamples(ctx, userID)
	if err != nil {
		return err
	}
	_, err = t.TrainPrivate(ctx, userID, samples)
	return err
}
