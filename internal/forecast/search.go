package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	perrors "github.com/julianstephens/daypulse/internal/errors"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/sampler"
)

// SearchOptions control the randomized search over the ridge penalty
type SearchOptions struct {
	Iterations int
	Folds      int
	MinAlpha   float64
	MaxAlpha   float64
	Seed       int64
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Iterations <= 0 {
		o.Iterations = 20
	}
	if o.Folds < 2 {
		o.Folds = 3
	}
	if o.MinAlpha <= 0 {
		o.MinAlpha = 1e-3
	}
	if o.MaxAlpha <= o.MinAlpha {
		o.MaxAlpha = 1e3
	}
	return o
}

// SearchResult is the best penalty found and its cross-validated score (negative MAE)
type SearchResult struct {
	Alpha     float64
	Score     float64
	Evaluated int
}

// Search draws penalties log-uniformly and scores each with k-fold cross validation.
// It stops early with the context's error when ctx is done.
func Search(ctx context.Context, s sampler.Samples, opts SearchOptions) (SearchResult, error) {
	opts = opts.withDefaults()
	n := s.Len()
	if n < 2 {
		return SearchResult{}, perrors.ErrInsufficientData
	}
	folds := min(opts.Folds, n)

	rng := rand.New(rand.NewSource(opts.Seed))
	order := rng.Perm(n)
	logMin, logMax := math.Log(opts.MinAlpha), math.Log(opts.MaxAlpha)

	best := SearchResult{Score: math.Inf(-1)}
	for i := 0; i < opts.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return SearchResult{}, err
		}

		alpha := math.Exp(logMin + rng.Float64()*(logMax-logMin))
		score, err := crossValidate(s, order, folds, alpha)
		if err != nil {
			logger.Debug("Skipping penalty candidate", "alpha", alpha, "error", err)
			continue
		}
		best.Evaluated++
		if score > best.Score {
			best.Alpha, best.Score = alpha, score
		}
	}

	if best.Evaluated == 0 {
		return SearchResult{}, fmt.Errorf("no penalty candidate could be fitted")
	}
	logger.Info("Hyperparameter search finished", "alpha", best.Alpha, "neg_mae", best.Score, "candidates", best.Evaluated)
	return best, nil
}

// crossValidate returns the mean negative MAE over contiguous folds of order
func crossValidate(s sampler.Samples, order []int, folds int, alpha float64) (float64, error) {
	n := len(order)
	var total float64
	for f := 0; f < folds; f++ {
		lo, hi := f*n/folds, (f+1)*n/folds
		test := order[lo:hi]
		train := make([]int, 0, n-len(test))
		train = append(train, order[:lo]...)
		train = append(train, order[hi:]...)

		p, err := Fit(s.Subset(train), alpha)
		if err != nil {
			return 0, err
		}
		total -= Evaluate(p, s.Subset(test)).MeanMAE()
	}
	return total / float64(folds), nil
}
