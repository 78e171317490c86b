package normalize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		row := make([]float64, cols)
		for j := range row {
			row[j] = rng.NormFloat64()*float64(j+1)*3 + float64(j)*10
		}
		out[i] = row
	}
	return out
}

func TestNormalizeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	raw := randomMatrix(rng, 200, 6)

	b, norm, err := Normalize(raw, DefaultLo, DefaultHi)
	require.NoError(t, err)
	require.Len(t, norm, len(raw))

	for i := range norm {
		for j, v := range norm[i] {
			assert.GreaterOrEqual(t, v, DefaultLo-1e-12, "row %d col %d", i, j)
			assert.LessOrEqual(t, v, DefaultHi+1e-12, "row %d col %d", i, j)
		}
	}

	back, err := Denormalize(norm, b)
	require.NoError(t, err)
	for i := range raw {
		for j := range raw[i] {
			assert.InDelta(t, raw[i][j], back[i][j], 1e-9)
		}
	}
}

func TestNormalizeHitsInterval(t *testing.T) {
	raw := [][]float64{{0, 10}, {5, 20}, {10, 30}}
	b, norm, err := Normalize(raw, 0, 2)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 10}, b.Min)
	assert.Equal(t, []float64{10, 30}, b.Max)
	assert.Equal(t, [][]float64{{0, 0}, {1, 1}, {2, 2}}, norm)
}

func TestNormalizeIgnoresNonFinite(t *testing.T) {
	raw := [][]float64{
		{1, math.NaN()},
		{math.Inf(-1), 4},
		{3, 2},
	}
	b, norm, err := Normalize(raw, DefaultLo, DefaultHi)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2}, b.Min)
	assert.Equal(t, []float64{3, 4}, b.Max)
	assert.True(t, math.IsNaN(norm[0][1]))
	assert.True(t, math.IsInf(norm[1][0], -1))
	assert.InDelta(t, -1.0, norm[0][0], 1e-12)
	assert.InDelta(t, 1.0, norm[1][1], 1e-12)
}

func TestNormalizeDegenerateColumn(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	raw := randomMatrix(rng, 50, 6)
	for i := range raw {
		raw[i][2] = 4.2
	}

	_, norm, err := Normalize(raw, DefaultLo, DefaultHi)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateColumn))
	assert.Nil(t, norm)
}

func TestNormalizeAllNaNColumn(t *testing.T) {
	raw := [][]float64{{1, math.NaN()}, {2, math.NaN()}}
	_, _, err := Normalize(raw, DefaultLo, DefaultHi)
	assert.True(t, errors.Is(err, ErrDegenerateColumn))
}

func TestNormalizeShapeErrors(t *testing.T) {
	_, _, err := Normalize(nil, DefaultLo, DefaultHi)
	assert.True(t, errors.Is(err, ErrShape))

	_, _, err = Normalize([][]float64{{1, 2}, {3}}, DefaultLo, DefaultHi)
	assert.True(t, errors.Is(err, ErrShape))

	_, _, err = Normalize([][]float64{{1, 2}, {3, 4}}, 1, 1)
	assert.True(t, errors.Is(err, ErrInterval))
}

func TestDenormalizeUsesStoredBounds(t *testing.T) {
	train := [][]float64{{0, -5}, {10, 5}}
	b, _, err := Normalize(train, DefaultLo, DefaultHi)
	require.NoError(t, err)

	// Rows with a much narrower spread than the training data must still map
	// through the training bounds, not through their own min/max.
	sampled := [][]float64{{0, 0}, {0.5, 0.5}}
	raw, err := Denormalize(sampled, b)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5, 0}, {7.5, 2.5}}, raw)
}

func TestDenormalizeRejectsWidthMismatch(t *testing.T) {
	b := Bounds{Min: []float64{0, 0}, Max: []float64{1, 1}, Lo: -1, Hi: 1}
	_, err := Denormalize([][]float64{{0, 0, 0}}, b)
	assert.True(t, errors.Is(err, ErrShape))

	_, err = Denormalize([][]float64{{0, 0}}, Bounds{Min: []float64{1}, Max: []float64{1}, Lo: -1, Hi: 1})
	assert.True(t, errors.Is(err, ErrDegenerateColumn))
}

func TestBoundsApplyMatchesNormalize(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	raw := randomMatrix(rng, 20, 3)
	b, norm, err := Normalize(raw, DefaultLo, DefaultHi)
	require.NoError(t, err)

	again, err := b.Apply(raw)
	require.NoError(t, err)
	assert.Equal(t, norm, again)

	c := b.Clone()
	c.Min[0] = -1000
	assert.False(t, b.Equal(c))
	assert.True(t, b.Equal(b.Clone()))
}
