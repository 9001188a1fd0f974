package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/julianstephens/daypulse/internal/forecast"
	"github.com/julianstephens/daypulse/internal/sampler"
	"github.com/julianstephens/daypulse/internal/trainer"
)

type TrainCmd struct {
	Global  TrainGlobalCmd  `cmd:"" help:"Train the shared model on every user's days."`
	Private TrainPrivateCmd `cmd:"" help:"Train one user's residual model."`
	All     TrainAllCmd     `cmd:"" help:"Train the residual model of every user."`
}

type TrainGlobalCmd struct {
	Synthetic string `type:"existingdir" help:"Directory of bulk JSON datasets to pool with stored days."`
	Optimize  bool   `help:"Search the ridge penalty with cross-validation."`
}

func (c *TrainGlobalCmd) Run(ctx *Context) error {
	bg, cancel := ctx.interruptible()
	defer cancel()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	dir := c.Synthetic
	if dir == "" {
		dir = ctx.Config.Training.SyntheticDir
	}

	return ctx.withTrainingLock(func() error {
		samples, report, err := ctx.Service.GlobalSamples(bg, dir)
		if err != nil {
			return err
		}
		ctx.printReport(report)

		art, err := ctx.Service.Trainer().TrainGlobal(bg, samples, trainer.GlobalOptions{Optimize: c.Optimize})
		if err != nil {
			return err
		}
		ctx.ok("Global model %s trained on %d samples", art.Version, samples.Len())
		ctx.printMetrics(art.Metrics)
		return nil
	})
}

type TrainPrivateCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *TrainPrivateCmd) Run(ctx *Context) error {
	bg, cancel := ctx.interruptible()
	defer cancel()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	return ctx.withTrainingLock(func() error {
		tr := ctx.Service.Trainer()
		samples, report, err := tr.UserSamples(bg, c.User)
		if err != nil {
			return err
		}
		ctx.printReport(report)

		art, err := tr.TrainPrivate(bg, c.User, samples)
		if err != nil {
			return err
		}
		ctx.ok("Private model %s trained for %s (global %s)", art.Version, c.User, art.GlobalVersion)
		ctx.printMetrics(art.Metrics)
		return nil
	})
}

type TrainAllCmd struct{}

func (c *TrainAllCmd) Run(ctx *Context) error {
	bg, cancel := ctx.interruptible()
	defer cancel()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	return ctx.withTrainingLock(func() error {
		users, err := ctx.Days.GetAllUserIDs(bg)
		if err != nil {
			return err
		}
		result, err := ctx.Service.Trainer().TrainAllPrivate(bg, users)
		if err != nil {
			return err
		}
		ctx.printResults(users, result.Failed, nil)
		ctx.ok("%d of %d private models trained", len(result.Trained), len(users))
		return nil
	})
}

func (c *Context) printReport(r sampler.Report) {
	fmt.Fprintf(c.Out, "Sampled %d day(s): %d pair(s) used, %d skipped, %d sample(s) without labels\n",
		r.Days, r.PairsUsed, r.PairsSkipped, r.SamplesSkipped)
	if n := len(r.Mismatches); n > 0 {
		c.warn("%d day pair(s) skipped for mismatched slots", n)
	}
	if n := len(r.Structural); n > 0 {
		c.warn("%d day(s) skipped for missing sections", n)
	}
}

func (c *Context) printMetrics(m forecast.Metrics) {
	c.printTable(
		[]string{"Target", "MAE", "R²", "Train", "Test"},
		[][]string{
			{"CP", formatMetric(m.MAE[0]), formatMetric(m.R2[0]), strconv.Itoa(m.TrainSize), strconv.Itoa(m.TestSize)},
			{"PE", formatMetric(m.MAE[1]), formatMetric(m.R2[1]), strconv.Itoa(m.TrainSize), strconv.Itoa(m.TestSize)},
		},
	)
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// printResults renders one row per user from the training and prediction failures
func (c *Context) printResults(users []string, trainFailed, predictFailed map[string]error) {
	sorted := append([]string(nil), users...)
	sort.Strings(sorted)

	headers := []string{"User", "Private model"}
	if predictFailed != nil {
		headers = append(headers, "Prediction")
	}
	rows := make([][]string, 0, len(sorted))
	for _, user := range sorted {
		row := []string{user, status(trainFailed[user])}
		if predictFailed != nil {
			row = append(row, status(predictFailed[user]))
		}
		rows = append(rows, row)
	}
	c.printTable(headers, rows)
}

func status(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
