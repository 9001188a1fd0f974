package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/julianstephens/daypulse/internal/aggregator"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/utils"
	"github.com/julianstephens/daypulse/internal/validation"
)

// ImportCmd loads day records from a JSON file holding one record or an array of them
type ImportCmd struct {
	File string `arg:"" type:"existingfile" help:"JSON file with day records."`
	User string `help:"Override the user ID of every imported record."`
}

func (c *ImportCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	days, err := readDays(c.File)
	if err != nil {
		return err
	}

	agg := ctx.Config.TrainerOptions().Aggregator()
	imported, failed := 0, 0
	for _, day := range days {
		if c.User != "" {
			day.UserID = c.User
		}
		if err := prepareDay(agg, &day); err != nil {
			logger.Warn("Skipping day", "user", day.UserID, "date", day.Date, "error", err)
			fmt.Fprintf(ctx.Out, "  skipped %s/%s: %v\n", day.UserID, day.Date, err)
			failed++
			continue
		}
		if err := ctx.Days.SaveDay(bg, day); err != nil {
			return fmt.Errorf("failed to save day %s for %s: %w", day.Date, day.UserID, err)
		}
		imported++
	}

	ctx.ok("Imported %d day(s) from %s", imported, c.File)
	if failed > 0 {
		ctx.warn("%d day(s) skipped", failed)
	}
	return nil
}

func readDays(path string) ([]models.DayRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var days []models.DayRecord
		if err := json.Unmarshal(data, &days); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return days, nil
	}

	var day models.DayRecord
	if err := json.Unmarshal(data, &day); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return []models.DayRecord{day}, nil
}

// prepareDay validates a record at the ingestion boundary and derives its slot load
func prepareDay(agg *aggregator.Aggregator, day *models.DayRecord) error {
	result := validation.New().ValidateDay(*day)
	if err := result.Err(); err != nil {
		return err
	}
	for _, c := range result.Conflicts {
		logger.Debug("Day record conflict", "user", day.UserID, "date", day.Date, "type", c.Type, "detail", c.Description)
	}

	if day.LastModified.IsZero() {
		day.LastModified = time.Now().UTC()
	}
	if day.Schedule == nil {
		return nil
	}

	aggregated, err := agg.ForDay(*day)
	if err != nil {
		return err
	}
	if day.UserData == nil {
		day.UserData = &models.UserData{}
	}
	day.UserData.Aggregated = &aggregated
	return nil
}

// DeleteCmd removes a user's days, predictions and private model
type DeleteCmd struct {
	User string `arg:"" help:"User ID."`
	Yes  bool   `short:"y" help:"Skip the confirmation prompt."`
}

func (c *DeleteCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	if !c.Yes {
		ok, err := confirmFunc(
			fmt.Sprintf("Delete all data for %s?", c.User),
			"Days, predictions and the private model are removed. The global model is kept.",
		)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(ctx.Out, "Deletion cancelled.")
			return nil
		}
	}

	return ctx.withTrainingLock(func() error {
		if err := ctx.cache.DeleteUser(bg, c.User); err != nil {
			return fmt.Errorf("failed to delete %s: %w", c.User, err)
		}
		ctx.ok("Deleted all data for %s", c.User)
		return nil
	})
}

// ValidateCmd reports conflicts in a user's stored days
type ValidateCmd struct {
	User string `arg:"" optional:"" help:"User ID; all users when omitted."`
}

func (c *ValidateCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	users := []string{c.User}
	if c.User == "" {
		var err error
		if users, err = ctx.Days.GetAllUserIDs(bg); err != nil {
			return err
		}
	}

	validator := validation.New()
	for _, user := range users {
		days, err := ctx.Days.GetDaySequence(bg, user)
		if err != nil {
			return fmt.Errorf("failed to load days for %s: %w", user, err)
		}
		result := validator.ValidateDays(days)
		fmt.Fprintf(ctx.Out, "%s (%d days): %s\n", user, len(days), result.FormatReport())
	}
	return nil
}

// AggregateCmd shows the slot load of one stored day
type AggregateCmd struct {
	User string `arg:"" help:"User ID."`
	Date string `arg:"" help:"Date (YYYY-MM-DD or 'today')."`
	Save bool   `help:"Store the aggregate on the day record."`
}

func (c *AggregateCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	date, err := ctx.resolveDate(c.Date)
	if err != nil {
		return err
	}
	day, err := ctx.Days.GetDay(bg, c.User, date)
	if err != nil {
		return fmt.Errorf("failed to load %s for %s: %w", date, c.User, err)
	}

	agg, err := ctx.Config.TrainerOptions().Aggregator().ForDay(day)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(agg.Slots))
	for _, key := range aggregator.SortedKeys(agg) {
		load := agg.Slots[key]
		rows = append(rows, []string{
			key,
			strconv.FormatFloat(load.TotalDuration, 'f', 0, 64),
			formatLoad(load.AvgMental),
			formatLoad(load.AvgPhysical),
			formatLoad(load.AvgExhaustion),
		})
	}
	ctx.printTable([]string{"Slot", "Minutes", "Mental", "Physical", "Exhaustion"}, rows)

	if c.Save {
		if day.UserData == nil {
			day.UserData = &models.UserData{}
		}
		day.UserData.Aggregated = &agg
		day.LastModified = time.Now().UTC()
		if err := ctx.Days.SaveDay(bg, day); err != nil {
			return err
		}
		ctx.ok("Aggregate stored on %s", date)
	}
	return nil
}

func formatLoad(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// resolveDate accepts YYYY-MM-DD or "today"
func (c *Context) resolveDate(date string) (string, error) {
	if date == "" || date == "today" {
		return c.Today()
	}
	if _, err := utils.ParseDate(date); err != nil {
		return "", fmt.Errorf("invalid date format: %s (expected YYYY-MM-DD or 'today')", date)
	}
	return date, nil
}
