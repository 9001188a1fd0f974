package cli

import (
	"github.com/julianstephens/daypulse/internal/models"
	"github.com/julianstephens/daypulse/internal/pipeline"
	"github.com/julianstephens/daypulse/internal/utils"
)

type PredictCmd struct {
	User string `arg:"" help:"User ID."`
	Date string `help:"Day to forecast (YYYY-MM-DD or 'today'); the previous day is the reference." default:"today"`
	Save bool   `help:"Store the predictions on the forecast day."`
}

func (c *PredictCmd) Run(ctx *Context) error {
	bg, cancel := ctx.interruptible()
	defer cancel()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	date, err := ctx.resolveDate(c.Date)
	if err != nil {
		return err
	}

	var preds []models.Prediction
	if c.Save {
		preds, err = ctx.Service.PredictAndPersist(bg, c.User, date)
	} else {
		var reference string
		if reference, err = utils.AddDays(date, -1); err == nil {
			preds, err = ctx.Service.Predict(bg, c.User, reference)
		}
	}
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(preds))
	for _, p := range preds {
		rows = append(rows, []string{p.TimeSlot, formatLoad(p.CP), formatLoad(p.PE)})
	}
	ctx.printTable([]string{"Slot", "CP", "PE"}, rows)
	if c.Save {
		ctx.ok("Stored %d predictions for %s on %s", len(preds), c.User, date)
	}
	return nil
}

type CycleCmd struct {
	User      string `arg:"" optional:"" help:"Limit private training and prediction to one user."`
	Date      string `help:"Day to forecast (YYYY-MM-DD or 'today')." default:"today"`
	Synthetic string `type:"existingdir" help:"Directory of bulk JSON datasets to pool into global training."`
	Optimize  bool   `help:"Search the ridge penalty when retraining the global model."`
}

func (c *CycleCmd) Run(ctx *Context) error {
	bg, cancel := ctx.interruptible()
	defer cancel()
	if err := ctx.Open(bg, false); err != nil {
		return err
	}

	date, err := ctx.resolveDate(c.Date)
	if err != nil {
		return err
	}
	dir := c.Synthetic
	if dir == "" {
		dir = ctx.Config.Training.SyntheticDir
	}

	return ctx.withTrainingLock(func() error {
		report, err := ctx.Service.RunCycle(bg, pipeline.CycleOptions{
			UserID:       c.User,
			Today:        date,
			SyntheticDir: dir,
			Optimize:     c.Optimize,
		})
		if err != nil {
			return err
		}

		if report.GlobalTrained {
			ctx.ok("Global model retrained on %d samples", report.GlobalSamples)
		} else {
			ctx.warn("Global model kept: not enough new data")
		}

		users := append(append([]string(nil), report.Predicted...), keys(report.PredictFailed)...)
		ctx.printResults(users, report.PrivateFailed, report.PredictFailed)
		ctx.ok("Predictions stored for %d user(s) on %s", len(report.Predicted), date)
		return nil
	})
}

func keys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
