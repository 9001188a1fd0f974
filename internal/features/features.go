// Package features turns day records into the fixed-order numeric vectors shared by
// training and inference.
package features

import (
	"math"
	"time"

	"github.com/julianstephens/daypulse/internal/aggregator"
	"github.com/julianstephens/daypulse/internal/constants"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/models"
)

// Size is the length of every feature vector
const Size = 12

// Column indices. The order is a contract between training and inference.
const (
	Steps = iota
	HeartRate
	AvgMental
	AvgPhysical
	AvgExhaustion
	TotalSleep
	DeepSleep
	RemSleep
	LightSleep
	HRV
	SinTime
	CosTime
)

// Columns names each position of a Vector
var Columns = [Size]string{
	"steps", "heart_rate", "avg_mental", "avg_physical", "avg_exhaustion",
	"total_sleep", "deep_sleep", "rem_sleep", "light_sleep", "hrv",
	"sin_time", "cos_time",
}

// Vector is one observation in Columns order
type Vector [Size]float64

// Valid reports whether every component is a finite number
func (v Vector) Valid() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Extractor builds feature vectors from day records
type Extractor struct {
	agg *aggregator.Aggregator
}

// New creates an Extractor that recomputes missing task aggregates with agg
func New(agg *aggregator.Aggregator) *Extractor {
	return &Extractor{agg: agg}
}

// TimeEncoding returns the cyclical encoding of an hour of day
func TimeEncoding(hour int) (float64, float64) {
	angle := 2 * math.Pi * float64(hour) / constants.HoursPerDay
	return math.Sin(angle), math.Cos(angle)
}

// Extract builds the feature vector for one slot of a day. It fails with a
// StructuralError when the day lacks telemetry or the slot key is malformed;
// individual missing measurements default to zero.
func (e *Extractor) Extract(day models.DayRecord, slot string) (Vector, error) {
	vectors, err := e.ExtractSlots(day, []string{slot})
	if err != nil {
		return Vector{}, err
	}
	return vectors[0], nil
}

// ExtractSlots builds one vector per slot, aggregating the schedule at most once
func (e *Extractor) ExtractSlots(day models.DayRecord, slots []string) ([]Vector, error) {
	if day.UserData == nil {
		return nil, perrors.NewStructuralError(day.Date, "user_data", "")
	}
	fit := day.UserData.GoogleFit
	if fit == nil {
		return nil, perrors.NewStructuralError(day.Date, "user_data.google_fit", "")
	}

	load := e.taskLoad(day)

	vectors := make([]Vector, 0, len(slots))
	for _, slot := range slots {
		start, end, err := aggregator.ParseSlotKey(slot)
		if err != nil {
			return nil, perrors.NewStructuralError(day.Date, "time_slot", err.Error())
		}

		var v Vector
		if m, ok := fit.Metric(slot); ok {
			v[Steps] = models.Value(m.Steps)
			v[HeartRate] = models.Value(m.HeartRate)
		}
		if l, ok := slotLoad(load, slot, start, end); ok {
			v[AvgMental] = l.AvgMental
			v[AvgPhysical] = l.AvgPhysical
			v[AvgExhaustion] = l.AvgExhaustion
		}
		if fit.Sleep != nil {
			v[TotalSleep] = models.Value(fit.Sleep.TotalHours)
			v[DeepSleep] = models.Value(fit.Sleep.DeepHours)
			v[RemSleep] = models.Value(fit.Sleep.RemHours)
			v[LightSleep] = models.Value(fit.Sleep.LightHours)
		}
		v[HRV] = models.Value(fit.HRV)
		v[SinTime], v[CosTime] = TimeEncoding(start / 60)

		vectors = append(vectors, v)
	}
	return vectors, nil
}

// taskLoad prefers the stored aggregate and recomputes it from the schedule otherwise.
// An unusable schedule window degrades to no task load.
func (e *Extractor) taskLoad(day models.DayRecord) map[string]models.SlotLoad {
	if day.UserData.Aggregated != nil {
		return day.UserData.Aggregated.Slots
	}
	if day.Schedule == nil {
		return nil
	}
	agg, err := e.agg.ForDay(day)
	if err != nil {
		return nil
	}
	return agg.Slots
}

// slotLoad returns the load of slot. When the aggregate uses another slot width the
// load is rebuilt from the overlapping slots, each contributing pro rata.
func slotLoad(load map[string]models.SlotLoad, slot string, start, end int) (models.SlotLoad, bool) {
	if l, ok := load[slot]; ok {
		return l, true
	}

	var out models.SlotLoad
	found := false
	for _, key := range aggregator.SortedKeys(models.AggregatedTaskData{Slots: load}) {
		ks, ke, err := aggregator.ParseSlotKey(key)
		if err != nil {
			continue
		}
		overlap := min(end, ke) - max(start, ks)
		if overlap <= 0 {
			continue
		}
		found = true
		l := load[key]
		frac := float64(overlap) / float64(ke-ks)
		out.TotalMental += l.TotalMental * frac
		out.TotalPhysical += l.TotalPhysical * frac
		out.TotalExhaustion += l.TotalExhaustion * frac
		out.TotalDuration += l.TotalDuration * frac
	}
	if out.TotalDuration > 0 {
		out.AvgMental = out.TotalMental / out.TotalDuration
		out.AvgPhysical = out.TotalPhysical / out.TotalDuration
		out.AvgExhaustion = out.TotalExhaustion / out.TotalDuration
	}
	return out, found
}

// ExtractDaily flattens a day-level synthetic record into a vector. The time encoding
// comes from the collection timestamp. Missing sections are structural errors.
func ExtractDaily(date string, day models.SyntheticDay) (Vector, error) {
	switch {
	case day.HourlyMetrics == nil:
		return Vector{}, perrors.NewStructuralError(date, "hourly_metrics", "")
	case day.GoogleFitData == nil:
		return Vector{}, perrors.NewStructuralError(date, "google_fit_data", "")
	case day.TasksData == nil:
		return Vector{}, perrors.NewStructuralError(date, "tasks_data", "")
	case day.SleepData == nil:
		return Vector{}, perrors.NewStructuralError(date, "sleep_data", "")
	case day.CollectedAt == nil:
		return Vector{}, perrors.NewStructuralError(date, "collected_at", "")
	}

	collected, err := parseTimestamp(*day.CollectedAt)
	if err != nil {
		return Vector{}, perrors.NewStructuralError(date, "collected_at", err.Error())
	}

	var v Vector
	for _, h := range day.HourlyMetrics {
		v[Steps] += h.Steps
		v[HeartRate] += h.HeartRate
	}
	if n := len(day.HourlyMetrics); n > 0 {
		v[HeartRate] /= float64(n)
	}
	for _, t := range day.TasksData {
		v[AvgMental] += t.Mental
		v[AvgPhysical] += t.Physical
		v[AvgExhaustion] += t.Exhaustion
	}
	if n := len(day.TasksData); n > 0 {
		v[AvgMental] /= float64(n)
		v[AvgPhysical] /= float64(n)
		v[AvgExhaustion] /= float64(n)
	}
	v[TotalSleep] = day.SleepData.TotalHours
	v[DeepSleep] = day.SleepData.DeepHours
	v[RemSleep] = day.SleepData.RemHours
	v[LightSleep] = day.SleepData.LightHours
	v[HRV] = day.GoogleFitData.HRV
	v[SinTime], v[CosTime] = TimeEncoding(collected.Hour())

	return v, nil
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
