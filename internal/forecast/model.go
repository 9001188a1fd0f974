// Package forecast holds the regression pipeline that maps feature vectors to CP/PE
// and the artifact format it is persisted in.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/sampler"
)

// Outputs is the number of jointly predicted targets (CP, PE)
const Outputs = 2

// Preprocessor imputes missing values with the training median and standardizes each column
type Preprocessor struct {
	Medians features.Vector `json:"medians"`
	Means   features.Vector `json:"means"`
	Scales  features.Vector `json:"scales"`
}

// IdentityPreprocessor leaves finite inputs unchanged
func IdentityPreprocessor() Preprocessor {
	var p Preprocessor
	for i := range p.Scales {
		p.Scales[i] = 1
	}
	return p
}

// FitPreprocessor learns column medians, means and scales. A column with zero variance
// gets a scale of 1.
func FitPreprocessor(X []features.Vector) Preprocessor {
	p := IdentityPreprocessor()
	if len(X) == 0 {
		return p
	}

	col := make([]float64, 0, len(X))
	for j := 0; j < features.Size; j++ {
		col = col[:0]
		for _, x := range X {
			if !math.IsNaN(x[j]) {
				col = append(col, x[j])
			}
		}
		p.Medians[j] = median(col)

		col = col[:0]
		for _, x := range X {
			col = append(col, impute(x[j], p.Medians[j]))
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		p.Means[j] = mean
		if std > 0 && !math.IsNaN(std) {
			p.Scales[j] = std
		}
	}
	return p
}

// Transform applies imputation and scaling to one vector
func (p Preprocessor) Transform(x features.Vector) features.Vector {
	var out features.Vector
	for j := range x {
		scale := p.Scales[j]
		if scale == 0 {
			scale = 1
		}
		out[j] = (impute(x[j], p.Medians[j]) - p.Means[j]) / scale
	}
	return out
}

func impute(v, median float64) float64 {
	if math.IsNaN(v) {
		return median
	}
	return v
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// Ridge is a multi-output linear model with an L2 penalty on the weights
type Ridge struct {
	Alpha   float64                  `json:"alpha"`
	Weights [Outputs]features.Vector `json:"weights"`
	Bias    sampler.Target           `json:"bias"`
}

// ErrSingular is returned when the normal equations cannot be factorized
var ErrSingular = errors.New("ridge system is not positive definite")

// FitRidge solves (XᵀX + αI)w = Xᵀy on centered data for both outputs at once
func FitRidge(X []features.Vector, Y []sampler.Target, alpha float64) (Ridge, error) {
	n := len(X)
	if n == 0 || n != len(Y) {
		return Ridge{}, fmt.Errorf("cannot fit ridge on %d inputs and %d targets", n, len(Y))
	}
	if alpha < 0 {
		return Ridge{}, fmt.Errorf("ridge penalty must be non-negative, got %v", alpha)
	}

	var xMean features.Vector
	var yMean sampler.Target
	for i := range X {
		for j := range xMean {
			xMean[j] += X[i][j]
		}
		for k := range yMean {
			yMean[k] += Y[i][k]
		}
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	for k := range yMean {
		yMean[k] /= float64(n)
	}

	xc := mat.NewDense(n, features.Size, nil)
	yc := mat.NewDense(n, Outputs, nil)
	for i := range X {
		for j := 0; j < features.Size; j++ {
			xc.Set(i, j, X[i][j]-xMean[j])
		}
		for k := 0; k < Outputs; k++ {
			yc.Set(i, k, Y[i][k]-yMean[k])
		}
	}

	gram := mat.NewSymDense(features.Size, nil)
	gram.SymOuterK(1, xc.T())
	for j := 0; j < features.Size; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}

	var rhs mat.Dense
	rhs.Mul(xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return Ridge{}, ErrSingular
	}
	var w mat.Dense
	if err := chol.SolveTo(&w, &rhs); err != nil {
		return Ridge{}, fmt.Errorf("failed to solve ridge system: %w", err)
	}

	model := Ridge{Alpha: alpha}
	for k := 0; k < Outputs; k++ {
		model.Bias[k] = yMean[k]
		for j := 0; j < features.Size; j++ {
			model.Weights[k][j] = w.At(j, k)
			model.Bias[k] -= model.Weights[k][j] * xMean[j]
		}
	}
	return model, nil
}

// Predict evaluates the model on an already preprocessed vector
func (r Ridge) Predict(x features.Vector) sampler.Target {
	y := r.Bias
	for k := 0; k < Outputs; k++ {
		for j, v := range x {
			y[k] += r.Weights[k][j] * v
		}
	}
	return y
}

// Pipeline chains preprocessing and the ridge model
type Pipeline struct {
	Preprocessor Preprocessor `json:"preprocessor"`
	Model        Ridge        `json:"model"`
}

// Fit trains a pipeline on the given samples
func Fit(s sampler.Samples, alpha float64) (Pipeline, error) {
	pre := FitPreprocessor(s.X)
	transformed := make([]features.Vector, len(s.X))
	for i, x := range s.X {
		transformed[i] = pre.Transform(x)
	}
	model, err := FitRidge(transformed, s.Y, alpha)
	if err != nil {
		return Pipeline{}, err
	}
	return Pipeline{Preprocessor: pre, Model: model}, nil
}

// Predict maps a raw feature vector to [CP, PE]
func (p Pipeline) Predict(x features.Vector) sampler.Target {
	return p.Model.Predict(p.Preprocessor.Transform(x))
}

// Constant returns a pipeline that ignores its input and always predicts y
func Constant(y sampler.Target) Pipeline {
	return Pipeline{
		Preprocessor: IdentityPreprocessor(),
		Model:        Ridge{Bias: y},
	}
}
