// Package diagnostics compares emulated subhalo populations with the
// population the flow was trained on.
package diagnostics

import (
	"math"

	"github.com/pkg/errors"
)

// Feature column positions.
const (
	ColMassInfall = iota
	ColConcentration
	ColMassBound
	ColRedshiftInfall
	ColRadiusOrbital
	ColTidalHeating
)

// DefaultTidalFloor is the tidal heating value at or below which source
// subhalos are treated as outliers.
const DefaultTidalFloor = -6.0

// Mass thresholds, in log10(M_infall/M_host), of the low-to-high mass ratio.
const (
	RatioLowMass  = -6.0
	RatioHighMass = -4.0
)

// ErrEmptyBin is returned when a ratio has nothing in its denominator.
var ErrEmptyBin = errors.New("diagnostics: no subhalos above the high-mass threshold")

// Limits are the resolution limits emulated subhalos must respect.
type Limits struct {
	MassResolution float64
	MassTree       float64
}

// Valid reports whether a feature row is physically allowed:
//
//	mass_infall > log10(2*M_res/M_tree)
//	mass_bound  <= 0
//	mass_bound  > -mass_infall + log10(M_res/M_tree)
//	redshift_infall >= 0
func (l Limits) Valid(row []float64) bool {
	if len(row) <= ColRedshiftInfall {
		return false
	}
	m, b, z := row[ColMassInfall], row[ColMassBound], row[ColRedshiftInfall]
	return m > math.Log10(2*l.MassResolution/l.MassTree) &&
		b <= 0 &&
		b > -m+math.Log10(l.MassResolution/l.MassTree) &&
		z >= 0
}

// ValidityFilter returns the rows that pass l.Valid and the keep mask.
func ValidityFilter(rows [][]float64, l Limits) ([][]float64, []bool) {
	return filter(rows, l.Valid)
}

// TidalClip drops rows whose tidal heating is at or below floor.
func TidalClip(rows [][]float64, floor float64) ([][]float64, []bool) {
	return filter(rows, func(r []float64) bool {
		return len(r) > ColTidalHeating && r[ColTidalHeating] > floor
	})
}

// Masked returns rows[i] for every i where mask[i] is true. mask may be
// shorter than rows; the extra rows are dropped.
func Masked(rows [][]float64, mask []bool) [][]float64 {
	var out [][]float64
	for i, keep := range mask {
		if keep && i < len(rows) {
			out = append(out, rows[i])
		}
	}
	return out
}

func filter(rows [][]float64, keep func([]float64) bool) ([][]float64, []bool) {
	mask := make([]bool, len(rows))
	var out [][]float64
	for i, r := range rows {
		if keep(r) {
			mask[i] = true
			out = append(out, r)
		}
	}
	return out, mask
}

// WeightedMassRatio is the weighted number of subhalos with mass_infall
// above RatioLowMass divided by the weighted number above RatioHighMass.
// A nil weights slice counts every row once.
func WeightedMassRatio(rows [][]float64, weights []float64) (float64, error) {
	if weights != nil && len(weights) != len(rows) {
		return 0, errors.Errorf("diagnostics: %d rows but %d weights", len(rows), len(weights))
	}
	var low, high float64
	for i, r := range rows {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		m := r[ColMassInfall]
		if m > RatioLowMass {
			low += w
		}
		if m > RatioHighMass {
			high += w
		}
	}
	if high == 0 {
		return math.NaN(), ErrEmptyBin
	}
	return low / high, nil
}

// CountMassRatio is WeightedMassRatio with unit weights, used for emulated
// samples whose multiplicities are already folded into their density.
func CountMassRatio(rows [][]float64) (float64, error) {
	return WeightedMassRatio(rows, nil)
}
