// Package sampler turns day sequences into (features, targets) training pairs.
package sampler

import (
	"math"
	"sort"

	"github.com/julianstephens/daypulse/internal/aggregator"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/models"
)

// Target holds the [CP, PE] pair for one slot
type Target [2]float64

// Samples is an ordered training set. X[i] predicts Y[i].
type Samples struct {
	X []features.Vector
	Y []Target
}

// Len returns the number of samples
func (s Samples) Len() int {
	return len(s.X)
}

// Add appends one sample
func (s *Samples) Add(x features.Vector, y Target) {
	s.X = append(s.X, x)
	s.Y = append(s.Y, y)
}

// Subset returns the samples at the given indices, in that order
func (s Samples) Subset(idx []int) Samples {
	out := Samples{
		X: make([]features.Vector, 0, len(idx)),
		Y: make([]Target, 0, len(idx)),
	}
	for _, i := range idx {
		out.Add(s.X[i], s.Y[i])
	}
	return out
}

// Pool concatenates sample sets, preserving order within each set
func Pool(sets ...Samples) Samples {
	var n int
	for _, s := range sets {
		n += s.Len()
	}
	out := Samples{
		X: make([]features.Vector, 0, n),
		Y: make([]Target, 0, n),
	}
	for _, s := range sets {
		out.X = append(out.X, s.X...)
		out.Y = append(out.Y, s.Y...)
	}
	return out
}

// Report summarizes what the sampler kept and dropped
type Report struct {
	Days           int
	PairsUsed      int
	PairsSkipped   int
	SamplesSkipped int
	Mismatches     []*perrors.MismatchError
	Structural     []error
}

// Merge folds another report into r
func (r *Report) Merge(o Report) {
	r.Days += o.Days
	r.PairsUsed += o.PairsUsed
	r.PairsSkipped += o.PairsSkipped
	r.SamplesSkipped += o.SamplesSkipped
	r.Mismatches = append(r.Mismatches, o.Mismatches...)
	r.Structural = append(r.Structural, o.Structural...)
}

// Sampler pairs each day's features with the following day's labels
type Sampler struct {
	extractor *features.Extractor
}

// New creates a Sampler whose extractor aggregates schedules with agg
func New(agg *aggregator.Aggregator) *Sampler {
	return &Sampler{extractor: features.New(agg)}
}

// Normalize sorts days by date and collapses duplicate dates, keeping the most
// recently modified record. Ties go to the record that appears later.
func Normalize(days []models.DayRecord) []models.DayRecord {
	sorted := make([]models.DayRecord, len(days))
	copy(sorted, days)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})

	out := sorted[:0]
	for _, day := range sorted {
		if n := len(out); n > 0 && out[n-1].Date == day.Date {
			if !day.LastModified.Before(out[n-1].LastModified) {
				out[n-1] = day
			}
			continue
		}
		out = append(out, day)
	}
	return out
}

// Pairs walks a user's days in date order and emits one sample per label on day N+1,
// using day N's features for the same slot. A pair is skipped whole when day N's
// telemetry slots differ from day N+1's labeled slots, or when day N is structurally
// malformed. Fewer than two days yields an empty set.
func (s *Sampler) Pairs(days []models.DayRecord) (Samples, Report) {
	days = Normalize(days)
	report := Report{Days: len(days)}
	var samples Samples

	for i := 0; i+1 < len(days); i++ {
		cur, next := days[i], days[i+1]

		if !next.HasLabels() {
			logger.Debug("Skipping pair without labels", "date", cur.Date, "next", next.Date)
			report.PairsSkipped++
			continue
		}
		if !cur.HasTelemetry() {
			err := perrors.NewStructuralError(cur.Date, "user_data.google_fit", "")
			logger.Warn("Skipping pair with malformed day", "user", cur.UserID, "error", err)
			report.Structural = append(report.Structural, err)
			report.PairsSkipped++
			continue
		}
		if mismatch := compareSlots(cur, next); mismatch != nil {
			logger.Warn("Skipping pair with mismatched slots", "user", cur.UserID, "error", mismatch)
			report.Mismatches = append(report.Mismatches, mismatch)
			report.PairsSkipped++
			continue
		}

		labels := next.UserData.MLData
		slots := make([]string, len(labels))
		for j, l := range labels {
			slots[j] = l.TimeSlot
		}
		vectors, err := s.extractor.ExtractSlots(cur, slots)
		if err != nil {
			logger.Warn("Skipping pair with malformed day", "user", cur.UserID, "error", err)
			report.Structural = append(report.Structural, err)
			report.PairsSkipped++
			continue
		}

		for j, l := range labels {
			y, ok := target(l.PredictedCP, l.PredictedPE)
			if !ok || !vectors[j].Valid() {
				report.SamplesSkipped++
				continue
			}
			samples.Add(vectors[j], y)
		}
		report.PairsUsed++
	}

	return samples, report
}

func compareSlots(cur, next models.DayRecord) *perrors.MismatchError {
	observed := cur.ObservedSlots()
	labeled := next.LabeledSlots()

	var missing, extra []string
	for slot := range observed {
		if _, ok := labeled[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	for slot := range labeled {
		if _, ok := observed[slot]; !ok {
			extra = append(extra, slot)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &perrors.MismatchError{Date: cur.Date, NextDate: next.Date, Missing: missing, Extra: extra}
}

func target(cp, pe *float64) (Target, bool) {
	if cp == nil || pe == nil {
		return Target{}, false
	}
	y := Target{*cp, *pe}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Target{}, false
		}
	}
	return y, true
}
