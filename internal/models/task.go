package models

import (
	"fmt"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/utils"
)

type Task struct {
	Name       string `json:"name"`
	Start      string `json:"start"`    // HH:MM format
	End        string `json:"end"`      // HH:MM format
	Deadline   string `json:"deadline"` // HH:MM format
	Done       bool   `json:"done"`
	Mental     int    `json:"mental"`
	Physical   int    `json:"physical"`
	Exhaustion int    `json:"exhaustion"`
	Priority   int    `json:"priority"`
}

// DurationMinutes returns end minus start in minutes. The result may be zero or negative.
func (t Task) DurationMinutes() (int, error) {
	start, err := utils.ParseTimeToMinutes(t.Start)
	if err != nil {
		return 0, fmt.Errorf("task %q start: %w", t.Name, err)
	}
	end, err := utils.ParseTimeToMinutes(t.End)
	if err != nil {
		return 0, fmt.Errorf("task %q end: %w", t.Name, err)
	}
	return end - start, nil
}

// Validate checks the task at the ingestion boundary
func (t Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if !utils.ValidateTimeFormat(t.Start) {
		return fmt.Errorf("task %q: invalid start time %q", t.Name, t.Start)
	}
	if !utils.ValidateTimeFormat(t.End) {
		return fmt.Errorf("task %q: invalid end time %q", t.Name, t.End)
	}
	if t.Deadline != "" && !utils.ValidateTimeFormat(t.Deadline) {
		return fmt.Errorf("task %q: invalid deadline %q", t.Name, t.Deadline)
	}
	ratings := []struct {
		name  string
		value int
	}{
		{"mental", t.Mental},
		{"physical", t.Physical},
		{"exhaustion", t.Exhaustion},
	}
	for _, r := range ratings {
		if r.value < constants.MinRating || r.value > constants.MaxRating {
			return fmt.Errorf("task %q: %s rating %d outside %d..%d", t.Name, r.name, r.value, constants.MinRating, constants.MaxRating)
		}
	}
	return nil
}
