package aggregator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/utils"
)

// Slot is a fixed-width bucket inside a day's active window
type Slot struct {
	Key   string
	Start int // minutes from midnight
	End   int // minutes from midnight, exclusive
}

// Aggregator apportions task load into fixed-width time slots
type Aggregator struct {
	slotMinutes int
	dayStart    string
	dayEnd      string
}

// New creates an Aggregator. Non-positive widths fall back to the default of 60 minutes.
func New(slotMinutes int) *Aggregator {
	if slotMinutes <= 0 {
		slotMinutes = constants.DefaultSlotMinutes
	}
	return &Aggregator{
		slotMinutes: slotMinutes,
		dayStart:    constants.DefaultDayStart,
		dayEnd:      constants.DefaultDayEnd,
	}
}

// WithWindow returns a copy that uses [start, end) for schedules without their own
// window. Empty bounds keep the current ones.
func (a *Aggregator) WithWindow(start, end string) *Aggregator {
	out := *a
	if start != "" {
		out.dayStart = start
	}
	if end != "" {
		out.dayEnd = end
	}
	return &out
}

// SlotMinutes returns the configured slot width
func (a *Aggregator) SlotMinutes() int {
	return a.slotMinutes
}

// SlotKey formats a slot key from minute offsets
func SlotKey(start, end int) string {
	return utils.FormatMinutes(start) + "-" + utils.FormatMinutes(end)
}

// HourlySlotKey returns the canonical key for the hour starting at the given hour of day
func HourlySlotKey(hour int) string {
	return SlotKey(hour*60, (hour+1)*60)
}

// ParseSlotKey splits a "HH:MM-HH:MM" key into minute offsets
func ParseSlotKey(key string) (int, int, error) {
	startStr, endStr, ok := strings.Cut(key, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid slot key %q: expected HH:MM-HH:MM", key)
	}
	start, err := utils.ParseTimeToMinutes(startStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot key %q: %w", key, err)
	}
	end, err := utils.ParseTimeToMinutes(endStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid slot key %q: %w", key, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("invalid slot key %q: end must be after start", key)
	}
	return start, end, nil
}

// Slots returns contiguous, non-overlapping slots covering [start, end).
// The final slot is truncated at end and never extends past it.
func (a *Aggregator) Slots(start, end string) ([]Slot, error) {
	startMin, err := utils.ParseTimeToMinutes(start)
	if err != nil {
		return nil, fmt.Errorf("invalid window start: %w", err)
	}
	endMin, err := utils.ParseTimeToMinutes(end)
	if err != nil {
		return nil, fmt.Errorf("invalid window end: %w", err)
	}
	if endMin <= startMin {
		return nil, fmt.Errorf("window end %s must be after start %s", end, start)
	}

	slots := make([]Slot, 0, (endMin-startMin)/a.slotMinutes+1)
	for t := startMin; t < endMin; t += a.slotMinutes {
		slotEnd := min(t+a.slotMinutes, endMin)
		slots = append(slots, Slot{Key: SlotKey(t, slotEnd), Start: t, End: slotEnd})
	}
	return slots, nil
}

// Aggregate distributes each task's ratings over the slots it overlaps, weighted by
// overlapped minutes. Tasks with a non-positive duration or unparseable times are skipped.
func (a *Aggregator) Aggregate(tasks []models.Task, start, end string) (models.AggregatedTaskData, error) {
	slots, err := a.Slots(start, end)
	if err != nil {
		return models.AggregatedTaskData{}, err
	}

	result := models.AggregatedTaskData{
		Start:       start,
		End:         end,
		SlotMinutes: a.slotMinutes,
		Slots:       make(map[string]models.SlotLoad, len(slots)),
	}
	for _, s := range slots {
		result.Slots[s.Key] = models.SlotLoad{}
	}

	for _, task := range tasks {
		taskStart, err := utils.ParseTimeToMinutes(task.Start)
		if err != nil {
			continue
		}
		taskEnd, err := utils.ParseTimeToMinutes(task.End)
		if err != nil {
			continue
		}
		if taskEnd-taskStart <= 0 {
			continue
		}

		for _, s := range slots {
			overlap := min(taskEnd, s.End) - max(taskStart, s.Start)
			if overlap <= 0 {
				continue
			}
			load := result.Slots[s.Key]
			load.TotalMental += float64(task.Mental * overlap)
			load.TotalPhysical += float64(task.Physical * overlap)
			load.TotalExhaustion += float64(task.Exhaustion * overlap)
			load.TotalDuration += float64(overlap)
			result.Slots[s.Key] = load
		}
	}

	for key, load := range result.Slots {
		if load.TotalDuration > 0 {
			load.AvgMental = load.TotalMental / load.TotalDuration
			load.AvgPhysical = load.TotalPhysical / load.TotalDuration
			load.AvgExhaustion = load.TotalExhaustion / load.TotalDuration
		}
		result.Slots[key] = load
	}

	return result, nil
}

// ForDay aggregates a day's schedule over the schedule's own window, or the
// configured day window when it is unset. The window is widened to the slot grid so
// keys line up with the telemetry slots. Days without a schedule yield an empty aggregate.
func (a *Aggregator) ForDay(day models.DayRecord) (models.AggregatedTaskData, error) {
	start, end := a.dayStart, a.dayEnd
	var tasks []models.Task
	if day.Schedule != nil {
		if day.Schedule.Start != "" {
			start = day.Schedule.Start
		}
		if day.Schedule.End != "" {
			end = day.Schedule.End
		}
		tasks = day.Schedule.Tasks
	}
	return a.Aggregate(tasks, a.alignDown(start), a.alignUp(end))
}

// alignDown floors an HH:MM bound to the slot grid. Unparseable bounds are returned
// as is for Aggregate to reject.
func (a *Aggregator) alignDown(t string) string {
	m, err := utils.ParseTimeToMinutes(t)
	if err != nil {
		return t
	}
	return utils.FormatMinutes(m - m%a.slotMinutes)
}

// alignUp ceils an HH:MM bound to the slot grid, capped at the end of the day
func (a *Aggregator) alignUp(t string) string {
	m, err := utils.ParseTimeToMinutes(t)
	if err != nil {
		return t
	}
	if r := m % a.slotMinutes; r != 0 {
		m += a.slotMinutes - r
	}
	return utils.FormatMinutes(min(m, constants.MinutesPerDay))
}

// SortedKeys returns the aggregate's slot keys in chronological order
func SortedKeys(agg models.AggregatedTaskData) []string {
	keys := make([]string, 0, len(agg.Slots))
	for k := range agg.Slots {
		keys = append(keys, k)
	}
	// Keys are zero-padded, so lexical order is chronological
	sort.Strings(keys)
	return keys
}
