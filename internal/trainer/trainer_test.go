package trainer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/julianstephens/daypulse/internal/constants"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage"
	"github.com/julianstephens/daypulse/internal/storage/sqlite"
	"github.com/julianstephens/daypulse/internal/storage/storagetest"
)

func setupTrainer(t *testing.T) (*Trainer, *sqlite.Store) {
	t.Helper()
	store := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	opts := DefaultOptions()
	opts.Search.Iterations = 4
	return New(store, store, opts), store
}

func linearSamples(n int) sampler.Samples {
	var s sampler.Samples
	for i := 0; i < n; i++ {
		var x features.Vector
		x[features.Steps] = float64(100 * (i % 10))
		x[features.HRV] = float64(40 + (i*3)%17)
		s.Add(x, sampler.Target{0.2 + 0.0005*x[features.Steps], 0.9 - 0.01*x[features.HRV]})
	}
	return s
}

func constantSamples(n int, y sampler.Target) sampler.Samples {
	var s sampler.Samples
	for i := 0; i < n; i++ {
		s.Add(features.Vector{}, y)
	}
	return s
}

func TestTrainGlobal(t *testing.T) {
	ctx := context.Background()
	tr, store := setupTrainer(t)

	art, err := tr.TrainGlobal(ctx, linearSamples(40), GlobalOptions{})
	if err != nil {
		t.Fatalf("TrainGlobal failed: %v", err)
	}
	if art.Metrics.TrainSize != 32 || art.Metrics.TestSize != 8 {
		t.Errorf("split = %d/%d, want 32/8", art.Metrics.TrainSize, art.Metrics.TestSize)
	}
	if art.Metrics.MAE[0] > 0.05 || art.Metrics.MAE[1] > 0.05 {
		t.Errorf("MAE too large for a linear target: %v", art.Metrics.MAE)
	}

	loaded, err := store.LoadArtifact(ctx, constants.ArtifactGlobal, "")
	if err != nil {
		t.Fatalf("global artifact not saved: %v", err)
	}
	if loaded.Version != art.Version {
		t.Errorf("stored version = %s, want %s", loaded.Version, art.Version)
	}
}

func TestTrainGlobalOptimize(t *testing.T) {
	tr, _ := setupTrainer(t)

	art, err := tr.TrainGlobal(context.Background(), linearSamples(40), GlobalOptions{Optimize: true})
	if err != nil {
		t.Fatalf("TrainGlobal failed: %v", err)
	}
	alpha := art.Pipeline.Model.Alpha
	if alpha < 1e-3 || alpha > 1e3 {
		t.Errorf("searched alpha %v outside the search range", alpha)
	}
}

func TestTrainGlobalOptimizeCancelled(t *testing.T) {
	tr, store := setupTrainer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tr.TrainGlobal(ctx, linearSamples(40), GlobalOptions{Optimize: true}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if _, err := store.LoadArtifact(context.Background(), constants.ArtifactGlobal, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Error("cancelled training wrote an artifact")
	}
}

func TestTrainGlobalInsufficientData(t *testing.T) {
	ctx := context.Background()
	tr, store := setupTrainer(t)

	if _, err := tr.TrainGlobal(ctx, sampler.Samples{}, GlobalOptions{}); !errors.Is(err, perrors.ErrInsufficientData) {
		t.Fatalf("error = %v, want ErrInsufficientData", err)
	}
	if _, err := store.LoadArtifact(ctx, constants.ArtifactGlobal, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Error("failed training wrote an artifact")
	}
}

func TestTrainPrivateRequiresGlobal(t *testing.T) {
	tr, _ := setupTrainer(t)

	_, err := tr.TrainPrivate(context.Background(), "alice", constantSamples(5, sampler.Target{0.5, 0.5}))
	if !errors.Is(err, perrors.ErrOrdering) {
		t.Errorf("error = %v, want ErrOrdering", err)
	}
}

func TestTrainPrivateResidual(t *testing.T) {
	ctx := context.Background()
	tr, store := setupTrainer(t)

	global := forecast.NewGlobal(forecast.Constant(sampler.Target{0.5, 0.5}), forecast.Metrics{})
	if err := store.SaveArtifact(ctx, global); err != nil {
		t.Fatal(err)
	}

	art, err := tr.TrainPrivate(ctx, "alice", constantSamples(10, sampler.Target{0.6, 0.45}))
	if err != nil {
		t.Fatalf("TrainPrivate failed: %v", err)
	}
	if !art.Matches(global) {
		t.Error("private artifact not tagged with the global version")
	}

	residual := art.Predict(features.Vector{})
	if math.Abs(residual[0]-0.1) > 1e-9 || math.Abs(residual[1]+0.05) > 1e-9 {
		t.Errorf("residual = %v, want [0.1 -0.05]", residual)
	}
	if art.Metrics.MAE[0] > 1e-9 || art.Metrics.TestSize != 2 {
		t.Errorf("combined metrics = %+v", art.Metrics)
	}

	if _, err := store.LoadArtifact(ctx, constants.ArtifactPrivate, "alice"); err != nil {
		t.Errorf("private artifact not saved: %v", err)
	}
}

func TestTrainPrivateFewerThanTwoDays(t *testing.T) {
	ctx := context.Background()
	tr, store := setupTrainer(t)

	global := forecast.NewGlobal(forecast.Constant(sampler.Target{0.5, 0.5}), forecast.Metrics{})
	if err := store.SaveArtifact(ctx, global); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveDay(ctx, storagetest.Day("alice", "2025-02-16", time.Now())); err != nil {
		t.Fatal(err)
	}

	samples, _, err := tr.UserSamples(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.TrainPrivate(ctx, "alice", samples); !errors.Is(err, perrors.ErrInsufficientData) {
		t.Fatalf("error = %v, want ErrInsufficientData", err)
	}
	if _, err := store.LoadArtifact(ctx, constants.ArtifactPrivate, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("failed training wrote a private artifact")
	}
}

func TestTrainAllPrivate(t *testing.T) {
	ctx := context.Background()
	tr, store := setupTrainer(t)
	now := time.Now()

	for _, d := range []models.DayRecord{
		storagetest.Day("alice", "2025-02-14", now),
		storagetest.Day("alice", "2025-02-15", now),
		storagetest.Day("alice", "2025-02-16", now),
		storagetest.Day("bob", "2025-02-16", now),
	} {
		if err := store.SaveDay(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := tr.TrainAllPrivate(ctx, []string{"alice", "bob"}); !errors.Is(err, perrors.ErrOrdering) {
		t.Fatalf("error without global model = %v, want ErrOrdering", err)
	}

	pooled, report, err := tr.PooledSamples(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pooled.Len() != 2 || report.PairsUsed != 2 {
		t.Fatalf("pooled %d samples from %d pairs, want 2 from 2", pooled.Len(), report.PairsUsed)
	}
	if _, err := tr.TrainGlobal(ctx, pooled, GlobalOptions{}); err != nil {
		t.Fatal(err)
	}

	result, err := tr.TrainAllPrivate(ctx, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("TrainAllPrivate failed: %v", err)
	}
	if len(result.Trained) != 1 || result.Trained[0] != "alice" {
		t.Errorf("trained = %v, want [alice]", result.Trained)
	}
	if !errors.Is(result.Failed["bob"], perrors.ErrInsufficientData) {
		t.Errorf("bob error = %v, want ErrInsufficientData", result.Failed["bob"])
	}
}
