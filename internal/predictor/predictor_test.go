package predictor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/julianstephens/daypulse/internal/aggregator"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/storage/archive"
)

func gridDay(date string, label float64) models.DayRecord {
	fit := &models.GoogleFitData{HRV: models.Float(50)}
	var ml []models.MLEntry
	for _, slot := range []string{"08:00-09:00", "09:00-10:00"} {
		fit.HourlyMetrics = append(fit.HourlyMetrics, models.HourlyMetric{HourRange: slot, Steps: models.Float(500)})
		ml = append(ml, models.MLEntry{TimeSlot: slot, PredictedCP: models.Float(label), PredictedPE: models.Float(label)})
	}
	return models.DayRecord{
		UserID:   "u1",
		Date:     date,
		UserData: &models.UserData{GoogleFit: fit, MLData: ml},
	}
}

func setup(t *testing.T, global, private *sampler.Target) (*Predictor, *archive.Archive) {
	t.Helper()
	ctx := context.Background()
	store := archive.New(t.TempDir())

	if global != nil {
		g := forecast.NewGlobal(forecast.Constant(*global), forecast.Metrics{})
		if err := store.SaveArtifact(ctx, g); err != nil {
			t.Fatal(err)
		}
		if private != nil {
			p := forecast.NewPrivate("u1", g.Version, forecast.Constant(*private), forecast.Metrics{})
			if err := store.SaveArtifact(ctx, p); err != nil {
				t.Fatal(err)
			}
		}
	}
	return New(store, aggregator.New(60)), store
}

func TestCombine(t *testing.T) {
	global := forecast.Constant(sampler.Target{0.3, 0.7})
	private := forecast.Constant(sampler.Target{0.25, -0.5})

	xs := []features.Vector{{}, {1200, 72, 10, 2, 3, 7.5, 1.5, 2, 4, 48, 0.5, -0.5}}
	for _, x := range xs {
		g, p := global.Predict(x), private.Predict(x)
		if got := Combine(global, private, x); got != (sampler.Target{g[0] + p[0], g[1] + p[1]}) {
			t.Errorf("Combine with private = %v", got)
		}
		if got := Combine(global, nil, x); got != g {
			t.Errorf("Combine without private = %v, want %v", got, g)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.4, 1.0},
		{-0.2, 0},
		{0.5, 0.5},
		{0, 0},
		{1, 1},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHourlySlots(t *testing.T) {
	slots := HourlySlots()
	if len(slots) != 24 {
		t.Fatalf("len = %d, want 24", len(slots))
	}
	if slots[0] != "00:00-01:00" || slots[8] != "08:00-09:00" || slots[23] != "23:00-24:00" {
		t.Errorf("unexpected slot keys: %s %s %s", slots[0], slots[8], slots[23])
	}
}

func TestPredictNextDayEndToEnd(t *testing.T) {
	p, _ := setup(t, &sampler.Target{0.5, 0.5}, &sampler.Target{0.1, -0.05})
	days := []models.DayRecord{
		gridDay("2025-02-14", 0.5),
		gridDay("2025-02-15", 0.6),
		gridDay("2025-02-16", 0.4),
	}

	preds, err := p.PredictNextDay(context.Background(), "u1", days[len(days)-1])
	if err != nil {
		t.Fatalf("PredictNextDay failed: %v", err)
	}
	if len(preds) != 24 {
		t.Fatalf("expected 24 predictions, got %d", len(preds))
	}

	want := models.Prediction{TimeSlot: "08:00-09:00", CP: 0.6, PE: 0.45}
	if preds[8] != want {
		t.Errorf("prediction = %+v, want %+v", preds[8], want)
	}
}

func TestPredictNextDayClamps(t *testing.T) {
	p, _ := setup(t, &sampler.Target{1.4, -0.3}, nil)

	preds, err := p.PredictNextDay(context.Background(), "u1", gridDay("2025-02-16", 0.5))
	if err != nil {
		t.Fatal(err)
	}
	for _, pr := range preds {
		if pr.CP != 1.0 || pr.PE != 0 {
			t.Fatalf("prediction %+v not clamped to [0,1]", pr)
		}
	}
}

func TestPredictNextDayIgnoresStalePrivateModel(t *testing.T) {
	ctx := context.Background()
	p, store := setup(t, &sampler.Target{0.5, 0.5}, nil)

	stale := forecast.NewPrivate("u1", uuid.New(), forecast.Constant(sampler.Target{0.3, 0.3}), forecast.Metrics{})
	if err := store.SaveArtifact(ctx, stale); err != nil {
		t.Fatal(err)
	}

	preds, err := p.PredictNextDay(ctx, "u1", gridDay("2025-02-16", 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if preds[8].CP != 0.5 || preds[8].PE != 0.5 {
		t.Errorf("stale private model was combined: %+v", preds[8])
	}
}

func TestPredictNextDayWithoutModel(t *testing.T) {
	p, _ := setup(t, nil, nil)

	preds, err := p.PredictNextDay(context.Background(), "u1", gridDay("2025-02-16", 0.5))
	if !errors.Is(err, perrors.ErrMissingArtifact) {
		t.Errorf("error = %v, want ErrMissingArtifact", err)
	}
	if preds == nil || len(preds) != 0 {
		t.Errorf("expected an empty prediction set, got %v", preds)
	}
}

func TestPredictNextDayStructuralError(t *testing.T) {
	p, _ := setup(t, &sampler.Target{0.5, 0.5}, nil)

	day := gridDay("2025-02-16", 0.5)
	day.UserData.GoogleFit = nil
	preds, err := p.PredictNextDay(context.Background(), "u1", day)
	if !perrors.IsStructural(err) {
		t.Errorf("error = %v, want StructuralError", err)
	}
	if len(preds) != 0 {
		t.Errorf("expected no partial output, got %d predictions", len(preds))
	}
}

func TestPredictionsAreFinite(t *testing.T) {
	p, _ := setup(t, &sampler.Target{0.5, 0.5}, &sampler.Target{0.1, 0.1})
	day := gridDay("2025-02-16", 0.5)
	day.UserData.GoogleFit.HourlyMetrics[0].HeartRate = nil

	preds, err := p.PredictNextDay(context.Background(), "u1", day)
	if err != nil {
		t.Fatal(err)
	}
	for _, pr := range preds {
		if math.IsNaN(pr.CP) || math.IsNaN(pr.PE) {
			t.Fatalf("NaN prediction for %s", pr.TimeSlot)
		}
	}
}
