// Package storagetest holds behaviour checks shared by every database-backed store.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage"
)

// Day builds a labeled day with telemetry for one slot
func Day(userID, date string, modified time.Time) models.DayRecord {
	return models.DayRecord{
		UserID: userID,
		Date:   date,
		Schedule: &models.Schedule{
			Start: "08:00",
			End:   "10:00",
			Tasks: []models.Task{{Name: "write", Start: "08:00", End: "09:00", Mental: 7, Physical: 2, Exhaustion: 3}},
		},
		UserData: &models.UserData{
			GoogleFit: &models.GoogleFitData{
				HourlyMetrics: []models.HourlyMetric{{HourRange: "08:00-09:00", Steps: models.Float(900)}},
				HRV:           models.Float(52),
			},
			MLData: []models.MLEntry{{TimeSlot: "08:00-09:00", PredictedCP: models.Float(0.6), PredictedPE: models.Float(0.4)}},
		},
		LastModified: modified,
	}
}

// Run exercises a freshly initialized, empty provider
func Run(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	base := time.Date(2025, 2, 16, 12, 0, 0, 0, time.UTC)

	t.Run("Days", func(t *testing.T) {
		for _, d := range []models.DayRecord{
			Day("alice", "2025-02-16", base),
			Day("alice", "2025-02-14", base),
			Day("alice", "2025-02-15", base),
			Day("bob", "2025-02-15", base),
		} {
			if err := p.SaveDay(ctx, d); err != nil {
				t.Fatalf("SaveDay(%s, %s) failed: %v", d.UserID, d.Date, err)
			}
		}

		days, err := p.GetDaySequence(ctx, "alice")
		if err != nil {
			t.Fatalf("GetDaySequence failed: %v", err)
		}
		if len(days) != 3 || days[0].Date != "2025-02-14" || days[2].Date != "2025-02-16" {
			t.Fatalf("GetDaySequence returned unexpected order: %+v", days)
		}
		got := days[0]
		if got.Schedule == nil || len(got.Schedule.Tasks) != 1 || got.Schedule.Tasks[0].Mental != 7 {
			t.Errorf("schedule not round-tripped: %+v", got.Schedule)
		}
		if !got.HasTelemetry() || models.Value(got.UserData.GoogleFit.HRV) != 52 {
			t.Errorf("telemetry not round-tripped: %+v", got.UserData)
		}
		if !got.LastModified.Equal(base) {
			t.Errorf("LastModified = %v, want %v", got.LastModified, base)
		}

		ids, err := p.GetAllUserIDs(ctx)
		if err != nil {
			t.Fatalf("GetAllUserIDs failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
			t.Errorf("GetAllUserIDs = %v", ids)
		}

		if _, err := p.GetDay(ctx, "alice", "2024-01-01"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetDay on missing day error = %v, want ErrNotFound", err)
		}
	})

	t.Run("SaveDayKeepsNewest", func(t *testing.T) {
		newer := Day("carol", "2025-02-16", base.Add(time.Hour))
		newer.Schedule.DailyScore = 9
		if err := p.SaveDay(ctx, newer); err != nil {
			t.Fatal(err)
		}

		stale := Day("carol", "2025-02-16", base)
		stale.Schedule.DailyScore = 1
		if err := p.SaveDay(ctx, stale); err != nil {
			t.Fatal(err)
		}

		got, err := p.GetDay(ctx, "carol", "2025-02-16")
		if err != nil {
			t.Fatal(err)
		}
		if got.Schedule.DailyScore != 9 {
			t.Errorf("stale write replaced newer record: score = %d", got.Schedule.DailyScore)
		}
	})

	t.Run("PersistPredictions", func(t *testing.T) {
		preds := []models.Prediction{
			{TimeSlot: "08:00-09:00", CP: 0.6, PE: 0.45},
			{TimeSlot: "09:00-10:00", CP: 0.7, PE: 0.5},
		}

		// Existing day keeps its schedule and telemetry
		if err := p.PersistPredictions(ctx, "alice", "2025-02-16", preds); err != nil {
			t.Fatalf("PersistPredictions failed: %v", err)
		}
		day, err := p.GetDay(ctx, "alice", "2025-02-16")
		if err != nil {
			t.Fatal(err)
		}
		if len(day.UserData.MLData) != 2 || *day.UserData.MLData[0].PredictedCP != 0.6 || *day.UserData.MLData[0].PredictedPE != 0.45 {
			t.Errorf("MLData = %+v", day.UserData.MLData)
		}
		if day.Schedule == nil || !day.HasTelemetry() {
			t.Error("persisting predictions dropped existing sections")
		}

		// Missing day is created
		if err := p.PersistPredictions(ctx, "dave", "2025-02-17", preds); err != nil {
			t.Fatalf("PersistPredictions on new day failed: %v", err)
		}
		day, err = p.GetDay(ctx, "dave", "2025-02-17")
		if err != nil {
			t.Fatal(err)
		}
		if !day.HasLabels() || day.Schedule != nil {
			t.Errorf("unexpected new day: %+v", day)
		}
	})

	t.Run("Artifacts", func(t *testing.T) {
		if _, err := p.LoadArtifact(ctx, constants.ArtifactGlobal, ""); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("LoadArtifact before training error = %v, want ErrNotFound", err)
		}

		global := forecast.NewGlobal(forecast.Constant(sampler.Target{0.5, 0.5}), forecast.Metrics{TrainSize: 10})
		if err := p.SaveArtifact(ctx, global); err != nil {
			t.Fatalf("SaveArtifact(global) failed: %v", err)
		}
		private := forecast.NewPrivate("alice", global.Version, forecast.Constant(sampler.Target{0.1, -0.05}), forecast.Metrics{})
		if err := p.SaveArtifact(ctx, private); err != nil {
			t.Fatalf("SaveArtifact(private) failed: %v", err)
		}

		loaded, err := p.LoadArtifact(ctx, constants.ArtifactGlobal, "")
		if err != nil {
			t.Fatalf("LoadArtifact(global) failed: %v", err)
		}
		if loaded.Version != global.Version || loaded.Metrics.TrainSize != 10 {
			t.Errorf("global artifact not round-tripped: %+v", loaded)
		}

		replacement := forecast.NewGlobal(forecast.Constant(sampler.Target{0.3, 0.3}), forecast.Metrics{})
		if err := p.SaveArtifact(ctx, replacement); err != nil {
			t.Fatal(err)
		}
		loaded, err = p.LoadArtifact(ctx, constants.ArtifactGlobal, "")
		if err != nil {
			t.Fatal(err)
		}
		if loaded.Version != replacement.Version {
			t.Error("SaveArtifact did not replace the global artifact")
		}

		lp, err := p.LoadArtifact(ctx, constants.ArtifactPrivate, "alice")
		if err != nil {
			t.Fatalf("LoadArtifact(private) failed: %v", err)
		}
		if !lp.Matches(global) || lp.Matches(replacement) {
			t.Error("private artifact lost its global version")
		}

		if err := p.SaveArtifact(ctx, forecast.Artifact{}); err == nil {
			t.Error("SaveArtifact should reject an invalid artifact")
		}

		stats, err := p.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.GlobalArtifacts != 1 || stats.PrivateArtifacts != 1 || stats.Users == 0 {
			t.Errorf("Stats = %+v", stats)
		}
	})

	t.Run("DeleteUser", func(t *testing.T) {
		if err := p.DeleteUser(ctx, "alice"); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		days, err := p.GetDaySequence(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(days) != 0 {
			t.Errorf("days remain after DeleteUser: %d", len(days))
		}
		if _, err := p.LoadArtifact(ctx, constants.ArtifactPrivate, "alice"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("private artifact remains after DeleteUser: %v", err)
		}
		if _, err := p.LoadArtifact(ctx, constants.ArtifactGlobal, ""); err != nil {
			t.Errorf("DeleteUser removed the global artifact: %v", err)
		}
	})
}
