package diagnostics

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Moment summarizes one feature column.
type Moment struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Moments returns per-column weighted mean and standard deviation, plus the
// column range. weights may be nil.
func Moments(rows [][]float64, weights []float64) ([]Moment, error) {
	if len(rows) == 0 {
		return nil, errors.New("diagnostics: no rows")
	}
	if weights != nil && len(weights) != len(rows) {
		return nil, errors.Errorf("diagnostics: %d rows but %d weights", len(rows), len(weights))
	}
	d := len(rows[0])
	out := make([]Moment, d)
	col := make([]float64, len(rows))
	for j := 0; j < d; j++ {
		for i, r := range rows {
			if len(r) != d {
				return nil, errors.Errorf("diagnostics: row %d has %d columns, expected %d", i, len(r), d)
			}
			col[i] = r[j]
		}
		mean, std := stat.MeanStdDev(col, weights)
		if len(rows) == 1 {
			std = 0
		}
		out[j] = Moment{Mean: mean, StdDev: std, Min: floats.Min(col), Max: floats.Max(col)}
	}
	return out, nil
}

// Column extracts column j of rows.
func Column(rows [][]float64, j int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[j]
	}
	return out
}

// Subset returns rows[idx[k]] for every k.
func Subset(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = rows[i]
	}
	return out
}

// LatentDeviation is the largest distance of any latent column's mean from
// 0 or standard deviation from 1. A well trained flow maps its training data
// close to a standard normal, so this should be small.
func LatentDeviation(z [][]float64) (float64, error) {
	m, err := Moments(z, nil)
	if err != nil {
		return 0, err
	}
	var dev float64
	for _, c := range m {
		dev = math.Max(dev, math.Max(math.Abs(c.Mean), math.Abs(c.StdDev-1)))
	}
	return dev, nil
}
