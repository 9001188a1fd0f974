package forecast

import (
	"math"
	"math/rand"

	"github.com/julianstephens/daypulse/internal/features"
	"github.com/julianstephens/daypulse/internal/sampler"
)

// Metrics are diagnostics recorded with an artifact. They never gate persistence.
type Metrics struct {
	TrainSize int            `json:"train_size"`
	TestSize  int            `json:"test_size"`
	MAE       sampler.Target `json:"mae"`
	R2        sampler.Target `json:"r2"`
}

// Predictor is anything that maps a raw feature vector to [CP, PE]
type Predictor interface {
	Predict(x features.Vector) sampler.Target
}

// Evaluate scores p on s, per target. An empty set yields zero metrics.
func Evaluate(p Predictor, s sampler.Samples) Metrics {
	m := Metrics{TestSize: s.Len()}
	n := s.Len()
	if n == 0 {
		return m
	}

	var mean sampler.Target
	for _, y := range s.Y {
		for k := range mean {
			mean[k] += y[k] / float64(n)
		}
	}

	var absErr, ssRes, ssTot sampler.Target
	for i, x := range s.X {
		pred := p.Predict(x)
		for k := 0; k < Outputs; k++ {
			diff := s.Y[i][k] - pred[k]
			absErr[k] += math.Abs(diff)
			ssRes[k] += diff * diff
			dev := s.Y[i][k] - mean[k]
			ssTot[k] += dev * dev
		}
	}

	for k := 0; k < Outputs; k++ {
		m.MAE[k] = absErr[k] / float64(n)
		switch {
		case ssTot[k] > 0:
			m.R2[k] = 1 - ssRes[k]/ssTot[k]
		case ssRes[k] == 0:
			m.R2[k] = 1
		}
	}
	return m
}

// MeanMAE averages the per-target MAE
func (m Metrics) MeanMAE() float64 {
	return (m.MAE[0] + m.MAE[1]) / Outputs
}

// testSize returns how many of n samples are held out; at least one sample always trains
func testSize(n int, ratio float64) int {
	if n < 2 || ratio <= 0 {
		return 0
	}
	size := int(math.Ceil(float64(n) * ratio))
	return min(size, n-1)
}

// ShuffledSplit partitions indices 0..n-1 randomly into train and test sets
func ShuffledSplit(n int, ratio float64, rng *rand.Rand) ([]int, []int) {
	idx := rng.Perm(n)
	k := testSize(n, ratio)
	return idx[k:], idx[:k]
}

// ChronologicalSplit keeps order and holds out the most recent samples
func ChronologicalSplit(n int, ratio float64) ([]int, []int) {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	k := testSize(n, ratio)
	return idx[:n-k], idx[n-k:]
}
