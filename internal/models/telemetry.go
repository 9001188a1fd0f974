package models

import "time"

// GoogleFitMeta describes when and for whom telemetry was collected
type GoogleFitMeta struct {
	UserID      string     `json:"user_id,omitempty"`
	CollectedAt *time.Time `json:"collected_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// HourlyMetric is the health telemetry for one slot. Nil fields were not reported.
type HourlyMetric struct {
	HourRange string   `json:"hour_range"` // "HH:MM-HH:MM"
	Steps     *float64 `json:"steps,omitempty"`
	HeartRate *float64 `json:"heart_rate,omitempty"`
}

// SleepStageData summarizes the previous night's sleep, in hours
type SleepStageData struct {
	TotalHours    *float64 `json:"total_hours,omitempty"`
	DeepHours     *float64 `json:"deep_hours,omitempty"`
	RemHours      *float64 `json:"rem_hours,omitempty"`
	LightHours    *float64 `json:"light_hours,omitempty"`
	AwakeEpisodes int      `json:"awake_episodes"`
}

// GoogleFitData is the per-day telemetry snapshot consumed by the feature extractor
type GoogleFitData struct {
	Meta          GoogleFitMeta   `json:"meta_data"`
	HourlyMetrics []HourlyMetric  `json:"hourly_metrics"`
	Sleep         *SleepStageData `json:"sleep,omitempty"`
	HRV           *float64        `json:"hrv,omitempty"` // RMSSD
	LastUpdated   *time.Time      `json:"last_updated,omitempty"`
}

// Metric returns the hourly metric for the given slot key, if reported
func (g *GoogleFitData) Metric(slot string) (HourlyMetric, bool) {
	if g == nil {
		return HourlyMetric{}, false
	}
	for _, m := range g.HourlyMetrics {
		if m.HourRange == slot {
			return m, true
		}
	}
	return HourlyMetric{}, false
}

// Value dereferences an optional measurement, falling back to zero
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}
