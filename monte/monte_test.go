package monte

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/subhaloflow/datasets"
	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/normalize"
)

func testFlow(t *testing.T) (*flow.Flow, normalize.Bounds, [][]float64) {
	t.Helper()
	f, err := flow.New(flow.Config{Layers: 4, HiddenLayers: 1, Width: 8, Seed: 12345})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	raw := make([][]float64, 50)
	for i := range raw {
		raw[i] = []float64{
			-6 + 6*rng.Float64(),
			20 * rng.Float64(),
			-3 * rng.Float64(),
			5 * rng.Float64(),
			-2 + 3*rng.Float64(),
			-3 + 8*rng.Float64(),
		}
	}
	b, norm, err := normalize.Normalize(raw, -1, 1)
	require.NoError(t, err)
	return f, b, norm
}

func TestSampleIsDeterministicAcrossWorkerCounts(t *testing.T) {
	f, b, _ := testFlow(t)

	s1, err := NewSampler(f, b, 99)
	require.NoError(t, err)
	s1.Workers = 1
	s1.ChunkSize = 7

	s8, err := NewSampler(f, b, 99)
	require.NoError(t, err)
	s8.Workers = 8
	s8.ChunkSize = 7

	a, err := s1.Sample(100)
	require.NoError(t, err)
	c, err := s8.Sample(100)
	require.NoError(t, err)
	assert.Equal(t, a, c)
	require.Len(t, a, 100)
	for _, row := range a {
		require.Len(t, row, flow.Dim)
		for _, v := range row {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestSampleMatchesDecodeThenDenormalize(t *testing.T) {
	f, b, _ := testFlow(t)
	s, err := NewSampler(f, b, 5)
	require.NoError(t, err)
	s.ChunkSize = 16

	z, x, err := s.SampleWithLatent(40)
	require.NoError(t, err)
	norm, _, err := f.Decode(z)
	require.NoError(t, err)
	want, err := normalize.Denormalize(norm, b)
	require.NoError(t, err)
	for i := range x {
		assert.InDeltaSlice(t, want[i], x[i], 1e-12)
	}

	// Latent draws look like a standard normal.
	var sum, sq float64
	for _, row := range z {
		for _, v := range row {
			sum += v
			sq += v * v
		}
	}
	n := float64(len(z) * flow.Dim)
	assert.InDelta(t, 0, sum/n, 0.25)
	assert.InDelta(t, 1, sq/n, 0.35)
}

func TestEncodeMatchesFlow(t *testing.T) {
	f, b, norm := testFlow(t)
	s, err := NewSampler(f, b, 1)
	require.NoError(t, err)
	s.ChunkSize = 8

	got, err := s.Encode(norm)
	require.NoError(t, err)
	want, _, err := f.Encode(norm)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDeltaSlice(t, want[i], got[i], 1e-12)
	}

	_, err = s.Encode(nil)
	assert.ErrorIs(t, err, flow.ErrShape)
	_, err = s.Encode([][]float64{{1, 2}})
	assert.ErrorIs(t, err, flow.ErrShape)
}

func TestNewSamplerValidation(t *testing.T) {
	f, b, _ := testFlow(t)
	_, err := NewSampler(nil, b, 1)
	assert.Error(t, err)

	small, _, err := normalize.Normalize([][]float64{{0, 1}, {1, 2}}, -1, 1)
	require.NoError(t, err)
	_, err = NewSampler(f, small, 1)
	assert.ErrorIs(t, err, flow.ErrShape)

	s, err := NewSampler(f, b, 1)
	require.NoError(t, err)
	_, err = s.Sample(0)
	assert.Error(t, err)
}

func TestWeightedSubsampleProportions(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))
	weights := []float64{1, 0, 3, 0}
	idx, err := WeightedSubsample(weights, 40000, rng)
	require.NoError(t, err)
	require.Len(t, idx, 40000)

	counts := make([]int, len(weights))
	for _, i := range idx {
		counts[i]++
	}
	assert.Zero(t, counts[1])
	assert.Zero(t, counts[3])
	assert.InDelta(t, 0.75, float64(counts[2])/40000, 0.02)
}

func TestWeightedSubsampleErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := WeightedSubsample([]float64{0, 0}, 3, rng)
	assert.ErrorIs(t, err, ErrNoWeight)
	_, err = WeightedSubsample(nil, 3, rng)
	assert.ErrorIs(t, err, ErrNoWeight)
	_, err = WeightedSubsample([]float64{1, -1}, 3, rng)
	assert.ErrorIs(t, err, flow.ErrWeight)
	_, err = WeightedSubsample([]float64{1}, -1, rng)
	assert.Error(t, err)

	idx, err := WeightedSubsample([]float64{0, 2}, 5, rng)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, idx)
}

// TestSampleReproducesTrainingMoments trains on a correlated two-component
// mixture in raw feature units and checks that denormalized samples match
// the data's per-feature mean and variance to within 20%.
func TestSampleReproducesTrainingMoments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end training in short mode")
	}
	rng := rand.New(rand.NewSource(167))
	raw := make([][]float64, 1000)
	for i := range raw {
		row := make([]float64, flow.Dim)
		centre := -2.0
		if rng.Float64() < 0.4 {
			centre = 2.0
		}
		row[0] = centre + 0.7*rng.NormFloat64()
		for j := 1; j < flow.Dim; j++ {
			row[j] = float64(j) + 0.5*rng.NormFloat64() + 0.3*row[0]
		}
		raw[i] = row
	}
	b, norm, err := normalize.Normalize(raw, normalize.DefaultLo, normalize.DefaultHi)
	require.NoError(t, err)
	weights := make([]float64, len(norm))
	for i := range weights {
		weights[i] = 1
	}
	ds, err := datasets.FromRows(norm, weights)
	require.NoError(t, err)

	f, err := flow.New(flow.Config{
		Layers:          6,
		HiddenLayers:    2,
		Width:           32,
		L2:              flow.NoL2,
		LearningRate:    3e-3,
		Epochs:          60,
		BatchSize:       64,
		ValidationSplit: 0.2,
		Seed:            173,
	})
	require.NoError(t, err)
	_, err = flow.Train(context.Background(), f, ds)
	require.NoError(t, err)

	s, err := NewSampler(f, b, 179)
	require.NoError(t, err)
	samples, err := s.Sample(4000)
	require.NoError(t, err)

	for j := 0; j < flow.Dim; j++ {
		data := make([]float64, len(raw))
		for i, r := range raw {
			data[i] = r[j]
		}
		gen := make([]float64, len(samples))
		for i, r := range samples {
			gen[i] = r[j]
		}
		dm, dv := stat.MeanVariance(data, nil)
		gm, gv := stat.MeanVariance(gen, nil)
		t.Logf("feature %d: data mean=%.3f var=%.4f, samples mean=%.3f var=%.4f", j, dm, dv, gm, gv)
		assert.LessOrEqual(t, math.Abs(gm-dm), 0.2*math.Sqrt(dv), "mean of feature %d", j)
		assert.LessOrEqual(t, math.Abs(gv/dv-1), 0.2, "variance of feature %d", j)
	}
}
