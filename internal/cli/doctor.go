package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/julianstephens/daypulse/internal/config"
	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/keyring"
	"github.com/julianstephens/daypulse/internal/lock"
	"github.com/julianstephens/daypulse/internal/storage"
)

type DoctorCmd struct{}

func (cmd *DoctorCmd) Run(ctx *Context) error {
	bg := context.Background()
	fmt.Fprintln(ctx.Out, "Running diagnostics...")
	fmt.Fprintln(ctx.Out)

	hasError := false
	report := func(name string, err error) bool {
		if err != nil {
			ctx.fail("%s: FAIL", name)
			fmt.Fprintf(ctx.Out, "   Error: %v\n", err)
			hasError = true
			return false
		}
		ctx.ok("%s: OK", name)
		return true
	}
	warn := func(name string, err error) {
		if err != nil {
			ctx.warn("%s: WARNING", name)
			fmt.Fprintf(ctx.Out, "   %v\n", err)
			return
		}
		ctx.ok("%s: OK", name)
	}

	if ctx.Config.Storage.Driver == config.DriverPostgres {
		report("OS keyring", checkKeyring())
	}

	store := ctx.Store
	var err error
	if store == nil {
		if store, err = ctx.provider(); err == nil {
			err = store.Connect(bg)
		}
	}
	dbReachable := report("Database reachable", err)

	if dbReachable {
		ctx.Store = store
		if report("Schema version", store.Load(bg)) {
			stats, err := store.Stats(bg)
			if report("Data readable", err) {
				fmt.Fprintf(ctx.Out, "   %d users, %d days, %d global / %d private models\n",
					stats.Users, stats.Days, stats.GlobalArtifacts, stats.PrivateArtifacts)
			}
			warn("Global model present", checkGlobalModel(bg, ctx))
		}
	} else {
		fmt.Fprintln(ctx.Out, "⊘ Schema version: SKIPPED (database not reachable)")
	}

	warn("Training lock", checkTrainingLock(ctx.DataDir))
	report("Clock/timezone", checkClockTimezone(ctx))

	fmt.Fprintln(ctx.Out)
	if hasError {
		fmt.Fprintln(ctx.Out, "Diagnostics completed with errors.")
		return fmt.Errorf("one or more health checks failed")
	}
	fmt.Fprintln(ctx.Out, "All diagnostics passed!")
	return nil
}

func checkKeyring() error {
	if !keyring.IsAvailable() {
		return keyring.ErrKeyringUnavailable
	}
	_, err := config.ConnString()
	return err
}

func checkGlobalModel(bg context.Context, ctx *Context) error {
	if err := ctx.Open(bg, false); err != nil {
		return err
	}
	art, err := ctx.Artifacts.LoadArtifact(bg, constants.ArtifactGlobal, "")
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no global model trained yet - run '%s train global'", constants.AppName)
	}
	if err != nil {
		return err
	}
	if age := time.Since(art.TrainedAt); age > 7*24*time.Hour {
		return fmt.Errorf("global model is %d days old", int(age.Hours()/24))
	}
	return nil
}

func checkTrainingLock(dataDir string) error {
	holder, held, err := lock.Held(dataDir)
	if err != nil {
		return fmt.Errorf("unreadable lockfile at %s: %w", lock.Path(dataDir), err)
	}
	if held {
		return fmt.Errorf("training in progress (pid %d since %s)", holder.PID, holder.Started.Format(time.RFC3339))
	}
	return nil
}

func checkClockTimezone(ctx *Context) error {
	now := time.Now()
	if now.Year() < 2020 || now.Year() > 2100 {
		return fmt.Errorf("system time appears incorrect: %s", now.Format(time.RFC3339))
	}
	if _, err := ctx.Today(); err != nil {
		return fmt.Errorf("configured timezone %q: %w", ctx.Config.Timezone, err)
	}
	return nil
}
