package flow

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when input rows do not have Dim features, when a
	// batch is empty, or when feature and weight counts disagree.
	ErrShape = errors.New("flow: shape mismatch")

	// ErrWeight is returned for a negative or non-finite row weight.
	ErrWeight = errors.New("flow: invalid weight")

	// ErrNonFinite is returned when a feature value is NaN or infinite.
	ErrNonFinite = errors.New("flow: non-finite feature")
)

// Batch is a validated set of normalized feature rows and their weights.
// A weight is a multiplicity: a row with weight w counts as w identical
// observations in the likelihood.
type Batch struct {
	X *mat.Dense
	W []float64
}

// Len returns the number of rows.
func (b Batch) Len() int {
	return len(b.W)
}

// NewBatch validates x and w and packs them into a Batch.
func NewBatch(x [][]float64, w []float64) (Batch, error) {
	if len(x) != len(w) {
		return Batch{}, errors.Wrapf(ErrShape, "%d feature rows but %d weights", len(x), len(w))
	}
	m, err := toMatrix(x)
	if err != nil {
		return Batch{}, err
	}
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Batch{}, errors.Wrapf(ErrWeight, "row %d has weight %v", i, v)
		}
	}
	return Batch{X: m, W: append([]float64(nil), w...)}, nil
}

// NewBatchFromAugmented splits rows of Dim features followed by one weight
// column.
func NewBatchFromAugmented(rows [][]float64) (Batch, error) {
	x := make([][]float64, len(rows))
	w := make([]float64, len(rows))
	for i, r := range rows {
		if len(r) != Dim+1 {
			return Batch{}, errors.Wrapf(ErrShape, "row %d has %d columns, expected %d features plus weight", i, len(r), Dim)
		}
		x[i] = r[:Dim]
		w[i] = r[Dim]
	}
	return NewBatch(x, w)
}

// toMatrix copies rows into a [len(rows)][Dim] matrix, rejecting wrong
// widths and non-finite values.
func toMatrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrShape, "no rows")
	}
	data := make([]float64, 0, len(rows)*Dim)
	for i, r := range rows {
		if len(r) != Dim {
			return nil, errors.Wrapf(ErrShape, "row %d has %d features, expected %d", i, len(r), Dim)
		}
		for j, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrapf(ErrNonFinite, "row %d column %d is %v", i, j, v)
			}
		}
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), Dim, data), nil
}

func fromMatrix(m *mat.Dense) [][]float64 {
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}
