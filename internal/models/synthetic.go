package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// SyntheticUser is one user's entry in the bulk dataset used to bootstrap the global model
type SyntheticUser struct {
	UserID string         `json:"user_id"`
	Data   []SyntheticDay `json:"data"`
}

// SyntheticDay is a day-level record from the bulk dataset. Sections are pointers or maps
// so that an absent section can be told apart from an empty one.
type SyntheticDay struct {
	HourlyMetrics map[string]SyntheticHour `json:"hourly_metrics"`
	GoogleFitData *SyntheticFit            `json:"google_fit_data"`
	TasksData     map[string]SyntheticLoad `json:"tasks_data"`
	SleepData     *SyntheticSleep          `json:"sleep_data"`
	CollectedAt   *string                  `json:"collected_at"`
	MLData        *SyntheticTargets        `json:"ml_data"`
}

type SyntheticHour struct {
	Steps     float64 `json:"steps"`
	HeartRate float64 `json:"heart_rate"`
}

type SyntheticFit struct {
	HRV float64 `json:"hrv"`
}

type SyntheticLoad struct {
	Mental     float64 `json:"mental"`
	Physical   float64 `json:"physical"`
	Exhaustion float64 `json:"exhaustion"`
}

type SyntheticSleep struct {
	TotalHours float64 `json:"total_hours"`
	DeepHours  float64 `json:"deep_hours"`
	RemHours   float64 `json:"rem_hours"`
	LightHours float64 `json:"light_hours"`
}

type SyntheticTargets struct {
	PredictedCP *Scalar `json:"predicted_CP"`
	PredictedPE *Scalar `json:"predicted_PE"`
}

// Scalar decodes either a number or a list of numbers; a list collapses to its mean.
// An empty list decodes to NaN so that it is treated as undefined.
type Scalar float64

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*s = Scalar(v)
		return nil
	}
	var list []float64
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected number or list of numbers: %w", err)
	}
	if len(list) == 0 {
		*s = Scalar(math.NaN())
		return nil
	}
	var sum float64
	for _, x := range list {
		sum += x
	}
	*s = Scalar(sum / float64(len(list)))
	return nil
}
