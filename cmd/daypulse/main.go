package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/daypulse/internal/cli"
	"github.com/julianstephens/daypulse/internal/config"
	"github.com/julianstephens/daypulse/internal/constants"
	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/logger"
)

var CLI struct {
	Version kong.VersionFlag
	DataDir string `help:"Directory holding the database, config, logs and model archive." type:"path" default:"${data_dir}"`
	Config  string `help:"Config file path. Defaults to daypulse.toml inside the data directory." type:"path"`
	Debug   bool   `help:"Log debug output to stderr."`

	Init      cli.InitCmd      `cmd:"" help:"Initialize daypulse storage."`
	Migrate   cli.MigrateCmd   `cmd:"" help:"Run database migrations."`
	Doctor    cli.DoctorCmd    `cmd:"" help:"Run health checks and diagnostics."`
	Import    cli.ImportCmd    `cmd:"" help:"Import day records from a JSON file."`
	Aggregate cli.AggregateCmd `cmd:"" help:"Show the per-slot task load of a day."`
	Validate  cli.ValidateCmd  `cmd:"" help:"Check stored days for conflicts."`
	Delete    cli.DeleteCmd    `cmd:"" help:"Delete a user's days and private model."`
	Train     cli.TrainCmd     `cmd:"" help:"Train forecasting models."`
	Predict   cli.PredictCmd   `cmd:"" help:"Forecast a user's CP and PE per hour."`
	Cycle     cli.CycleCmd     `cmd:"" help:"Retrain all models and store today's predictions."`
	Artifacts cli.ArtifactsCmd `cmd:"" help:"Inspect and roll back trained models."`
	Keyring   cli.KeyringCmd   `cmd:"" help:"Manage PostgreSQL credentials in the OS keyring."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Next-day cognitive and physical load forecasting from calendar and wearable data"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":  constants.Version,
			"data_dir": constants.DefaultDataDir,
		},
	)

	if err := logger.Init(logger.Config{Debug: CLI.Debug, DataDir: CLI.DataDir}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}

	configPath := CLI.Config
	if configPath == "" {
		configPath = config.Path(CLI.DataDir)
	}
	cfg, err := config.Load(configPath, CLI.DataDir)
	if err != nil {
		perrors.Fatal(err)
	}

	appCtx := cli.NewContext(cfg, CLI.DataDir)
	err = ctx.Run(appCtx)
	if closeErr := appCtx.Close(); closeErr != nil {
		logger.Warn("Failed to close database", "error", closeErr)
	}
	perrors.Fatal(err)
}
