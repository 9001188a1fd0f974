package models

import "time"

// DayRecord is everything known about one user's calendar day.
// At most one DayRecord exists per (UserID, Date).
type DayRecord struct {
	UserID       string    `json:"user_id"`
	Date         string    `json:"date"` // YYYY-MM-DD format
	Schedule     *Schedule `json:"schedule,omitempty"`
	UserData     *UserData `json:"user_data,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Schedule is the planned task list for a day plus its completion summary
type Schedule struct {
	Start      string  `json:"start,omitempty"` // HH:MM format
	End        string  `json:"end,omitempty"`   // HH:MM format
	Done       float64 `json:"done"`            // fraction of tasks completed
	Exhaustion int     `json:"exhaustion"`
	DailyScore int     `json:"daily_score"`
	Tasks      []Task  `json:"tasks"`
}

// UserData holds the telemetry and model outputs attached to a day
type UserData struct {
	GoogleFit  *GoogleFitData      `json:"google_fit,omitempty"`
	Aggregated *AggregatedTaskData `json:"aggregated_task_data,omitempty"`
	MLData     []MLEntry           `json:"ml_data,omitempty"`
}

// SlotLoad is the duration-weighted task load that fell into one time slot
type SlotLoad struct {
	TotalMental     float64 `json:"total_mental"`
	TotalPhysical   float64 `json:"total_physical"`
	TotalExhaustion float64 `json:"total_exhaustion"`
	TotalDuration   float64 `json:"total_duration"` // minutes
	AvgMental       float64 `json:"avg_mental"`
	AvgPhysical     float64 `json:"avg_physical"`
	AvgExhaustion   float64 `json:"avg_exhaustion"`
}

// AggregatedTaskData maps slot keys ("HH:MM-HH:MM") to their task load.
// It is derived from the schedule and can always be recomputed.
type AggregatedTaskData struct {
	Start       string              `json:"start"` // HH:MM format
	End         string              `json:"end"`   // HH:MM format
	SlotMinutes int                 `json:"slot_minutes"`
	Slots       map[string]SlotLoad `json:"slots"`
}

// HasTelemetry reports whether the day carries Google Fit data
func (d DayRecord) HasTelemetry() bool {
	return d.UserData != nil && d.UserData.GoogleFit != nil
}

// HasLabels reports whether the day carries CP/PE values
func (d DayRecord) HasLabels() bool {
	return d.UserData != nil && len(d.UserData.MLData) > 0
}

// ObservedSlots returns the set of slot keys present in the day's hourly telemetry
func (d DayRecord) ObservedSlots() map[string]struct{} {
	set := make(map[string]struct{})
	if !d.HasTelemetry() {
		return set
	}
	for _, m := range d.UserData.GoogleFit.HourlyMetrics {
		set[m.HourRange] = struct{}{}
	}
	return set
}

// LabeledSlots returns the set of slot keys present in the day's ML data
func (d DayRecord) LabeledSlots() map[string]struct{} {
	set := make(map[string]struct{})
	if d.UserData == nil {
		return set
	}
	for _, e := range d.UserData.MLData {
		set[e.TimeSlot] = struct{}{}
	}
	return set
}
