package datasets

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/normalize"
)

// This file provides the in-memory weighted dataset the flow trains on.
//
// Layout and intended usage:
//
// Weighted
//   - Holds WeightedSample rows: the six derived subhalo features followed
//     by a statistical weight (the subsampling weight of the node).
//   - Rows are addressed through an index permutation so Shuffle never
//     moves the samples themselves.
//   - Split takes the validation rows from the tail of the current order.
//   - Normalize returns a copy mapped into [lo, hi] together with the
//     frozen bounds needed to invert it.
//
// Weighted implements flow.Dataset.

// ErrEmpty is returned when an operation needs at least one row.
var ErrEmpty = errors.New("datasets: no rows")

// Dataset is what the training code and the diagnostics read from.
type Dataset interface {
	Len() int
	Example(i int) (features []float64, weight float64, err error)
	Rows(indices []int) (features [][]float64, weights []float64, err error)
	Shuffle(seed int64)
}

// WeightedSample is one subhalo: its feature vector and weight.
type WeightedSample struct {
	Features flow.FeatureVector
	Weight   float64
}

// Weighted is an in-memory dataset of weighted samples.
type Weighted struct {
	samples []WeightedSample
	order   []int
	rand    *rand.Rand
}

// NewWeighted wraps samples, validating that every weight is finite and
// non-negative. Features may be non-finite here; they are rejected when a
// training batch is built from them.
func NewWeighted(samples []WeightedSample) (*Weighted, error) {
	for i, s := range samples {
		if math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0) || s.Weight < 0 {
			return nil, errors.Wrapf(flow.ErrWeight, "sample %d has weight %v", i, s.Weight)
		}
	}
	d := &Weighted{
		samples: samples,
		order:   make([]int, len(samples)),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := range d.order {
		d.order[i] = i
	}
	return d, nil
}

// FromRows builds a dataset from parallel feature rows and weights.
func FromRows(features [][]float64, weights []float64) (*Weighted, error) {
	if len(features) != len(weights) {
		return nil, errors.Wrapf(flow.ErrShape, "%d feature rows but %d weights", len(features), len(weights))
	}
	samples := make([]WeightedSample, len(features))
	for i, row := range features {
		if len(row) != flow.Dim {
			return nil, errors.Wrapf(flow.ErrShape, "row %d has %d features, expected %d", i, len(row), flow.Dim)
		}
		copy(samples[i].Features[:], row)
		samples[i].Weight = weights[i]
	}
	return NewWeighted(samples)
}

// Len returns the number of samples.
func (d *Weighted) Len() int {
	return len(d.order)
}

// Example returns the features and weight at position i of the current order.
func (d *Weighted) Example(i int) ([]float64, float64, error) {
	if i < 0 || i >= len(d.order) {
		return nil, 0, errors.Errorf("datasets: index %d out of range [0,%d)", i, len(d.order))
	}
	s := d.samples[d.order[i]]
	return append([]float64(nil), s.Features[:]...), s.Weight, nil
}

// Rows returns copies of the features and weights at the given positions.
func (d *Weighted) Rows(indices []int) ([][]float64, []float64, error) {
	x := make([][]float64, len(indices))
	w := make([]float64, len(indices))
	for k, i := range indices {
		f, wt, err := d.Example(i)
		if err != nil {
			return nil, nil, err
		}
		x[k] = f
		w[k] = wt
	}
	return x, w, nil
}

// Shuffle permutes the order of the samples deterministically for seed.
func (d *Weighted) Shuffle(seed int64) {
	d.rand.Seed(seed)
	d.rand.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// Samples returns the samples in the current order.
func (d *Weighted) Samples() []WeightedSample {
	out := make([]WeightedSample, len(d.order))
	for k, i := range d.order {
		out[k] = d.samples[i]
	}
	return out
}

// Features returns all feature rows in the current order.
func (d *Weighted) Features() [][]float64 {
	out := make([][]float64, len(d.order))
	for k, i := range d.order {
		out[k] = append([]float64(nil), d.samples[i].Features[:]...)
	}
	return out
}

// Weights returns all weights in the current order.
func (d *Weighted) Weights() []float64 {
	out := make([]float64, len(d.order))
	for k, i := range d.order {
		out[k] = d.samples[i].Weight
	}
	return out
}

// TotalWeight is the sum of all weights, the effective number of subhalos.
func (d *Weighted) TotalWeight() float64 {
	var sum float64
	for _, i := range d.order {
		sum += d.samples[i].Weight
	}
	return sum
}

// Split divides the dataset at the current order: the last fraction frac
// of the rows becomes the second dataset.
func (d *Weighted) Split(frac float64) (*Weighted, *Weighted, error) {
	if frac < 0 || frac >= 1 {
		return nil, nil, errors.Errorf("datasets: split fraction must be in [0,1), got %v", frac)
	}
	all := d.Samples()
	cut := len(all) - int(float64(len(all))*frac)
	head, err := NewWeighted(all[:cut])
	if err != nil {
		return nil, nil, err
	}
	tail, err := NewWeighted(all[cut:])
	if err != nil {
		return nil, nil, err
	}
	return head, tail, nil
}

// Filter returns the samples for which keep returns true.
func (d *Weighted) Filter(keep func(WeightedSample) bool) *Weighted {
	var out []WeightedSample
	for _, s := range d.Samples() {
		if keep(s) {
			out = append(out, s)
		}
	}
	// Weights were validated when d was built.
	f, _ := NewWeighted(out)
	return f
}

// Normalize maps the features into [lo, hi] and returns the bounds used,
// together with a new dataset holding the normalized rows and the original
// weights.
func (d *Weighted) Normalize(lo, hi float64) (normalize.Bounds, *Weighted, error) {
	if d.Len() == 0 {
		return normalize.Bounds{}, nil, ErrEmpty
	}
	b, norm, err := normalize.Normalize(d.Features(), lo, hi)
	if err != nil {
		return normalize.Bounds{}, nil, err
	}
	out, err := FromRows(norm, d.Weights())
	if err != nil {
		return normalize.Bounds{}, nil, err
	}
	return b, out, nil
}
