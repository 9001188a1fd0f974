package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/daypulse/internal/constants"
	"github.com/julianstephens/daypulse/internal/storage"
)

var errNoArchive = fmt.Errorf("artifact history needs the file archive: set [artifacts] store = \"archive\" in %s", constants.ConfigFileName)

type ArtifactsCmd struct {
	List     ArtifactsListCmd     `cmd:"" help:"List trained models." default:"1"`
	Rollback ArtifactsRollbackCmd `cmd:"" help:"Make an archived model version current again."`
}

type ArtifactsListCmd struct {
	User string `help:"Show the private models of one user instead of the global model."`
}

func (c *ArtifactsListCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	kind := constants.ArtifactGlobal
	if c.User != "" {
		kind = constants.ArtifactPrivate
	}

	current, err := ctx.Artifacts.LoadArtifact(bg, kind, c.User)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	hasCurrent := err == nil

	if ctx.Archive == nil {
		if !hasCurrent {
			fmt.Fprintf(ctx.Out, "No %s model stored.\n", kind)
			return nil
		}
		ctx.printTable(
			[]string{"Version", "Trained", "Mean MAE", "Current"},
			[][]string{{current.Version.String(), current.TrainedAt.Format(time.DateTime), formatMetric(current.Metrics.MeanMAE()), "*"}},
		)
		return nil
	}

	entries, err := ctx.Archive.List(kind, c.User)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintf(ctx.Out, "No %s models archived.\n", kind)
		fmt.Fprintf(ctx.Out, "Artifacts are stored in: %s\n", ctx.Archive.Dir())
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		marker := ""
		if hasCurrent && e.Version == current.Version {
			marker = "*"
		}
		rows = append(rows, []string{
			e.Version.String(),
			e.TrainedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%.1f KB", float64(e.Size)/1024.0),
			marker,
		})
	}
	fmt.Fprintf(ctx.Out, "Archived %s models (%d total, keeping most recent %d):\n", kind, len(entries), ctx.Archive.MaxHistory)
	ctx.printTable([]string{"Version", "Trained", "Size", "Current"}, rows)
	return nil
}

type ArtifactsRollbackCmd struct {
	Version string `arg:"" help:"Archived version to restore."`
	User    string `help:"Roll back a user's private model instead of the global model."`
	Yes     bool   `short:"y" help:"Skip the confirmation prompt."`
}

func (c *ArtifactsRollbackCmd) Run(ctx *Context) error {
	bg := context.Background()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}
	if ctx.Archive == nil {
		return errNoArchive
	}

	version, err := uuid.Parse(c.Version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", c.Version, err)
	}

	kind := constants.ArtifactGlobal
	description := "Private models trained against the current global model will be ignored until retrained."
	if c.User != "" {
		kind = constants.ArtifactPrivate
		description = "The current private model of " + c.User + " will be replaced."
	}

	if !c.Yes {
		ok, err := confirmFunc(fmt.Sprintf("Restore %s model %s?", kind, version), description)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(ctx.Out, "Rollback cancelled.")
			return nil
		}
	}

	return ctx.withTrainingLock(func() error {
		art, err := ctx.Archive.Rollback(bg, kind, c.User, version)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		ctx.cache.Invalidate(kind, c.User)
		ctx.ok("Restored %s model %s trained %s", kind, art.Version, art.TrainedAt.Local().Format(time.DateTime))
		return nil
	})
}
