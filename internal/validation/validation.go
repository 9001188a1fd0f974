// Package validation checks day records at the ingestion boundary.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/julianstephens/daypulse/internal/aggregator"
	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/utils"
)

// ConflictType represents the type of validation conflict
type ConflictType string

const (
	ConflictInvalidDateTime   ConflictType = "invalid_datetime"
	ConflictMissingUser       ConflictType = "missing_user"
	ConflictDuplicateTaskName ConflictType = "duplicate_task_name"
	ConflictInvalidRating     ConflictType = "invalid_rating"
	ConflictOverlappingTasks  ConflictType = "overlapping_tasks"
	ConflictExceedsWindow     ConflictType = "exceeds_window"
	ConflictInvalidSlot       ConflictType = "invalid_slot"
	ConflictLabelOutOfRange   ConflictType = "label_out_of_range"
)

// Severity tells whether a conflict makes the record unusable
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Conflict represents a problem detected in a day record
type Conflict struct {
	Type        ConflictType
	Severity    Severity
	Description string
	Date        string
	Items       []string // Task or slot names involved
}

// ValidationResult contains all detected conflicts
type ValidationResult struct {
	Conflicts []Conflict
}

// HasConflicts returns true if there are any conflicts
func (vr *ValidationResult) HasConflicts() bool {
	return len(vr.Conflicts) > 0
}

// HasErrors returns true if any conflict makes the record unusable
func (vr *ValidationResult) HasErrors() bool {
	for _, c := range vr.Conflicts {
		if c.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err returns the first error-level conflict as an error, or nil
func (vr *ValidationResult) Err() error {
	for _, c := range vr.Conflicts {
		if c.Severity == SeverityError {
			return fmt.Errorf("%s: %s", c.Type, c.Description)
		}
	}
	return nil
}

// FormatReport returns a human-readable report of all conflicts
func (vr *ValidationResult) FormatReport() string {
	if !vr.HasConflicts() {
		return "No conflicts detected."
	}

	var b strings.Builder
	b.WriteString("Conflicts detected:\n")
	for _, c := range vr.Conflicts {
		level := "warning"
		if c.Severity == SeverityError {
			level = "error"
		}
		fmt.Fprintf(&b, "- [%s] %s %s\n", level, c.Date, c.Description)
	}
	return b.String()
}

// Validator validates day records
type Validator struct{}

// New creates a new Validator
func New() *Validator {
	return &Validator{}
}

func (r *ValidationResult) add(t ConflictType, sev Severity, date, format string, args ...any) {
	r.Conflicts = append(r.Conflicts, Conflict{
		Type:        t,
		Severity:    sev,
		Description: fmt.Sprintf(format, args...),
		Date:        date,
	})
}

// ValidateDay checks a record's identity, schedule and labels. Telemetry gaps are
// not conflicts.
func (v *Validator) ValidateDay(day models.DayRecord) ValidationResult {
	result := ValidationResult{Conflicts: []Conflict{}}

	if day.UserID == "" {
		result.add(ConflictMissingUser, SeverityError, day.Date, "day record has no user ID")
	}
	if _, err := utils.ParseDate(day.Date); err != nil {
		result.add(ConflictInvalidDateTime, SeverityError, day.Date, "invalid date %q", day.Date)
		return result
	}

	if day.Schedule != nil {
		v.validateSchedule(day.Date, *day.Schedule, &result)
	}
	if day.UserData != nil {
		v.validateLabels(day.Date, day.UserData.MLData, &result)
		if fit := day.UserData.GoogleFit; fit != nil {
			for _, m := range fit.HourlyMetrics {
				if _, _, err := aggregator.ParseSlotKey(m.HourRange); err != nil {
					result.add(ConflictInvalidSlot, SeverityWarning, day.Date, "telemetry slot %q is not a valid range", m.HourRange)
				}
			}
		}
	}
	return result
}

func (v *Validator) validateSchedule(date string, s models.Schedule, result *ValidationResult) {
	windowStart, windowEnd := 0, constants.MinutesPerDay
	if s.Start != "" {
		m, err := utils.ParseTimeToMinutes(s.Start)
		if err != nil {
			result.add(ConflictInvalidDateTime, SeverityError, date, "invalid schedule start %q", s.Start)
			return
		}
		windowStart = m
	}
	if s.End != "" {
		m, err := utils.ParseTimeToMinutes(s.End)
		if err != nil {
			result.add(ConflictInvalidDateTime, SeverityError, date, "invalid schedule end %q", s.End)
			return
		}
		windowEnd = m
	}
	if windowEnd <= windowStart {
		result.add(ConflictInvalidDateTime, SeverityError, date, "schedule ends (%s) before it starts (%s)", s.End, s.Start)
		return
	}

	type span struct {
		name       string
		start, end int
	}
	var spans []span
	names := make(map[string]int)

	for _, task := range s.Tasks {
		if task.Name != "" {
			names[task.Name]++
		}
		if err := task.Validate(); err != nil {
			typ := ConflictInvalidDateTime
			if strings.Contains(err.Error(), "rating") {
				typ = ConflictInvalidRating
			}
			result.add(typ, SeverityError, date, "%v", err)
			continue
		}

		start, _ := utils.ParseTimeToMinutes(task.Start)
		end, _ := utils.ParseTimeToMinutes(task.End)
		if end <= start {
			// Zero-length tasks carry no load
			result.add(ConflictInvalidDateTime, SeverityWarning, date, "task %q ends at or before its start", task.Name)
			continue
		}
		if start < windowStart || end > windowEnd {
			result.add(ConflictExceedsWindow, SeverityWarning, date,
				"task %q (%s-%s) extends past the schedule window; the excess is not counted", task.Name, task.Start, task.End)
		}
		spans = append(spans, span{name: task.Name, start: start, end: end})
	}

	dupes := make([]string, 0)
	for name, n := range names {
		if n > 1 {
			dupes = append(dupes, name)
		}
	}
	sort.Strings(dupes)
	for _, name := range dupes {
		result.add(ConflictDuplicateTaskName, SeverityWarning, date, "duplicate task name %q", name)
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans) && spans[j].start < spans[i].end; j++ {
			result.Conflicts = append(result.Conflicts, Conflict{
				Type:     ConflictOverlappingTasks,
				Severity: SeverityWarning,
				Description: fmt.Sprintf("tasks overlap: %q (%s-%s) and %q (%s-%s)",
					spans[i].name, utils.FormatMinutes(spans[i].start), utils.FormatMinutes(spans[i].end),
					spans[j].name, utils.FormatMinutes(spans[j].start), utils.FormatMinutes(spans[j].end)),
				Date:  date,
				Items: []string{spans[i].name, spans[j].name},
			})
		}
	}
}

func (v *Validator) validateLabels(date string, entries []models.MLEntry, result *ValidationResult) {
	for _, e := range entries {
		if _, _, err := aggregator.ParseSlotKey(e.TimeSlot); err != nil {
			result.add(ConflictInvalidSlot, SeverityError, date, "label slot %q is not a valid range", e.TimeSlot)
			continue
		}
		labels := []struct {
			name  string
			value *float64
		}{{"CP", e.PredictedCP}, {"PE", e.PredictedPE}}
		for _, l := range labels {
			if l.value != nil && (*l.value < 0 || *l.value > 1) {
				result.Conflicts = append(result.Conflicts, Conflict{
					Type:        ConflictLabelOutOfRange,
					Severity:    SeverityWarning,
					Description: fmt.Sprintf("%s label %.2f for %s is outside [0, 1]", l.name, *l.value, e.TimeSlot),
					Date:        date,
					Items:       []string{e.TimeSlot},
				})
			}
		}
	}
}

// ValidateDays checks each record and the sequence as a whole
func (v *Validator) ValidateDays(days []models.DayRecord) ValidationResult {
	result := ValidationResult{Conflicts: []Conflict{}}
	seen := make(map[string]bool)
	for _, day := range days {
		key := day.UserID + "/" + day.Date
		if seen[key] {
			result.add(ConflictInvalidDateTime, SeverityWarning, day.Date, "duplicate record for %s", day.UserID)
		}
		seen[key] = true
		r := v.ValidateDay(day)
		result.Conflicts = append(result.Conflicts, r.Conflicts...)
	}
	return result
}
