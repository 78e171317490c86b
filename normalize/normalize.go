// Package normalize maps raw feature columns onto a bounded hypercube and
// back.
//
// The bounds computed by Normalize are a frozen artifact of training: every
// later inversion (sampling) must use the exact Bounds value produced at
// training time, which is why Denormalize takes the bounds as an argument
// and never looks at the data it is inverting.
package normalize

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrDegenerateColumn is returned when a column has zero range (or no
	// finite value at all), which would otherwise divide by zero.
	ErrDegenerateColumn = errors.New("normalize: degenerate column")

	// ErrShape is returned for empty or ragged input, or input whose width
	// does not match the bounds.
	ErrShape = errors.New("normalize: shape mismatch")

	// ErrInterval is returned when the target interval is empty or not finite.
	ErrInterval = errors.New("normalize: invalid target interval")
)

// DefaultLo and DefaultHi are the conventional target interval.
const (
	DefaultLo = -1.0
	DefaultHi = 1.0
)

// Bounds holds the per-column minimum and maximum seen in the training data
// and the target interval [Lo, Hi] they were mapped onto.
type Bounds struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
	Lo  float64   `json:"lo"`
	Hi  float64   `json:"hi"`
}

// Dim returns the number of columns covered by the bounds.
func (b Bounds) Dim() int {
	return len(b.Min)
}

// Validate checks that the bounds can be used for a bijective mapping.
func (b Bounds) Validate() error {
	if err := checkInterval(b.Lo, b.Hi); err != nil {
		return err
	}
	if len(b.Min) == 0 || len(b.Min) != len(b.Max) {
		return errors.Wrapf(ErrShape, "bounds have %d minima and %d maxima", len(b.Min), len(b.Max))
	}
	for j := range b.Min {
		if !isFinite(b.Min[j]) || !isFinite(b.Max[j]) || b.Max[j] <= b.Min[j] {
			return errors.Wrapf(ErrDegenerateColumn, "column %d: min=%v max=%v", j, b.Min[j], b.Max[j])
		}
	}
	return nil
}

// Clone returns a deep copy, so frozen bounds cannot be mutated through a
// shared slice.
func (b Bounds) Clone() Bounds {
	out := Bounds{Lo: b.Lo, Hi: b.Hi}
	out.Min = append([]float64(nil), b.Min...)
	out.Max = append([]float64(nil), b.Max...)
	return out
}

// Equal reports whether two bounds are identical.
func (b Bounds) Equal(o Bounds) bool {
	if b.Lo != o.Lo || b.Hi != o.Hi || len(b.Min) != len(o.Min) || len(b.Max) != len(o.Max) {
		return false
	}
	for j := range b.Min {
		if b.Min[j] != o.Min[j] || b.Max[j] != o.Max[j] {
			return false
		}
	}
	return true
}

// Fit computes per-column bounds over raw, ignoring NaN and +/-Inf entries.
func Fit(raw [][]float64, lo, hi float64) (Bounds, error) {
	if err := checkInterval(lo, hi); err != nil {
		return Bounds{}, err
	}
	dim, err := width(raw)
	if err != nil {
		return Bounds{}, err
	}

	b := Bounds{
		Min: make([]float64, dim),
		Max: make([]float64, dim),
		Lo:  lo,
		Hi:  hi,
	}
	for j := 0; j < dim; j++ {
		b.Min[j] = math.Inf(1)
		b.Max[j] = math.Inf(-1)
	}
	for _, row := range raw {
		for j, v := range row {
			if !isFinite(v) {
				continue
			}
			if v < b.Min[j] {
				b.Min[j] = v
			}
			if v > b.Max[j] {
				b.Max[j] = v
			}
		}
	}
	for j := 0; j < dim; j++ {
		if math.IsInf(b.Min[j], 1) {
			return Bounds{}, errors.Wrapf(ErrDegenerateColumn, "column %d has no finite values", j)
		}
		if b.Max[j] == b.Min[j] {
			return Bounds{}, errors.Wrapf(ErrDegenerateColumn, "column %d is constant (%v)", j, b.Min[j])
		}
	}
	return b, nil
}

// Normalize fits bounds over raw and rescales every column into [lo, hi].
// Non-finite entries are carried through unchanged in kind.
func Normalize(raw [][]float64, lo, hi float64) (Bounds, [][]float64, error) {
	b, err := Fit(raw, lo, hi)
	if err != nil {
		return Bounds{}, nil, err
	}
	out, err := b.Apply(raw)
	if err != nil {
		return Bounds{}, nil, err
	}
	return b, out, nil
}

// Apply rescales raw with already frozen bounds.
func (b Bounds) Apply(raw [][]float64) ([][]float64, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := b.checkRows(raw); err != nil {
		return nil, err
	}
	span := b.Hi - b.Lo
	out := make([][]float64, len(raw))
	for i, row := range raw {
		o := make([]float64, len(row))
		for j, v := range row {
			sigma := (v - b.Min[j]) / (b.Max[j] - b.Min[j])
			o[j] = sigma*span + b.Lo
		}
		out[i] = o
	}
	return out, nil
}

// Denormalize maps normalized rows back to raw feature space using the
// stored bounds b.
func Denormalize(norm [][]float64, b Bounds) ([][]float64, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := b.checkRows(norm); err != nil {
		return nil, err
	}
	span := b.Hi - b.Lo
	out := make([][]float64, len(norm))
	for i, row := range norm {
		o := make([]float64, len(row))
		for j, v := range row {
			sigma := (v - b.Lo) / span
			o[j] = sigma*(b.Max[j]-b.Min[j]) + b.Min[j]
		}
		out[i] = o
	}
	return out, nil
}

func (b Bounds) checkRows(rows [][]float64) error {
	for i, row := range rows {
		if len(row) != b.Dim() {
			return errors.Wrapf(ErrShape, "row %d has %d columns, bounds have %d", i, len(row), b.Dim())
		}
	}
	return nil
}

func width(rows [][]float64) (int, error) {
	if len(rows) == 0 {
		return 0, errors.Wrap(ErrShape, "no rows")
	}
	dim := len(rows[0])
	if dim == 0 {
		return 0, errors.Wrap(ErrShape, "no columns")
	}
	for i, row := range rows {
		if len(row) != dim {
			return 0, errors.Wrapf(ErrShape, "row %d has %d columns, expected %d", i, len(row), dim)
		}
	}
	return dim, nil
}

func checkInterval(lo, hi float64) error {
	if !isFinite(lo) || !isFinite(hi) || lo >= hi {
		return errors.Wrapf(ErrInterval, "[%v, %v]", lo, hi)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
