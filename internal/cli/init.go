package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/julianstephens/daypulse/internal/config"
)

type InitCmd struct {
	Force bool `help:"Delete the existing SQLite database before initialization."`
	Yes   bool `short:"y" help:"Skip the confirmation prompt."`
}

func (c *InitCmd) Run(ctx *Context) error {
	bg := context.Background()

	if c.Force && ctx.Config.Storage.Driver == config.DriverSQLite {
		if err := c.reset(ctx); err != nil {
			return err
		}
	}

	if err := ctx.Open(bg, true); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Initialized %s storage at: %s\n", ctx.Config.Storage.Driver, ctx.Store.Location())

	path := config.Path(ctx.DataDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path, *ctx.Config); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		fmt.Fprintf(ctx.Out, "Wrote default config to: %s\n", path)
	}
	return nil
}

func (c *InitCmd) reset(ctx *Context) error {
	dbPath := ctx.Config.Storage.Path
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access existing database: %w", err)
	}

	if !c.Yes {
		ok, err := confirmFunc("Delete the existing database?", dbPath+" and all stored days will be removed.")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("initialization cancelled")
		}
	}

	if err := ctx.Close(); err != nil {
		return fmt.Errorf("failed to close existing database: %w", err)
	}
	ctx.Store = nil
	if err := os.Remove(dbPath); err != nil {
		return fmt.Errorf("failed to delete existing database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	fmt.Fprintf(ctx.Out, "Deleted existing database at: %s\n", dbPath)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(ctx *Context) error {
	bg := context.Background()

	store, err := ctx.provider()
	if err != nil {
		return err
	}
	if err := store.Connect(bg); err != nil {
		return fmt.Errorf("failed to load database: %w", err)
	}
	ctx.Store = store

	count, err := store.Migrate(bg, func(msg string) {
		fmt.Fprintln(ctx.Out, msg)
	})
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if count == 0 {
		fmt.Fprintln(ctx.Out, "No migrations to apply. Database is up to date.")
	} else {
		fmt.Fprintf(ctx.Out, "\nSuccessfully applied %d migration(s).\n", count)
	}
	return nil
}
