package plots

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/subhaloflow/flow"
)

func randomRows(seed int64, n int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{
			-5 + 4*rng.Float64(),
			5 + 10*rng.Float64(),
			-2 * rng.Float64(),
			3 * rng.Float64(),
			rng.NormFloat64() * 0.5,
			rng.NormFloat64(),
		}
	}
	return rows
}

func TestFeaturePanelsLayout(t *testing.T) {
	panels, err := FeaturePanels(randomRows(1, 80), randomRows(2, 60))
	require.NoError(t, err)
	require.Len(t, panels, flow.Dim-1)
	for j, row := range panels {
		require.Len(t, row, 2)
		assert.Equal(t, "Galacticus", row[0].Title)
		assert.Equal(t, "Generated", row[1].Title)
		assert.Equal(t, FeatureLabels[j+1], row[0].YLabel)
		assert.Equal(t, FeatureRanges[j+1], row[1].YRange)
		assert.Equal(t, MassRange, row[0].XRange)
		assert.Len(t, row[0].X, 80)
		assert.Len(t, row[1].Z, 60)
	}

	_, err = FeaturePanels([][]float64{{1, 2}}, nil)
	assert.Error(t, err)
}

func TestFeaturePanelsTooFewPoints(t *testing.T) {
	panels, err := FeaturePanels(randomRows(1, 1), randomRows(2, 30))
	require.NoError(t, err)
	assert.Nil(t, panels[0][0].Z)
	assert.Len(t, panels[0][1].Z, 30)
}

func TestDensityGridWritesPNG(t *testing.T) {
	panels, err := FeaturePanels(randomRows(3, 50), randomRows(4, 50))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "figs", "density.png")
	require.NoError(t, DensityGrid(path, panels, 6*vg.Inch, 10*vg.Inch))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(b), 8)
	assert.Equal(t, []byte("\x89PNG"), b[:4])
}

func TestDensityGridErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, DensityGrid(filepath.Join(dir, "a.png"), nil, vg.Inch, vg.Inch))

	ragged := [][]Panel{{{}, {}}, {{}}}
	assert.Error(t, DensityGrid(filepath.Join(dir, "b.png"), ragged, vg.Inch, vg.Inch))

	bad := [][]Panel{{{X: []float64{1, 2}, Y: []float64{1}}}}
	assert.Error(t, DensityGrid(filepath.Join(dir, "c.png"), bad, vg.Inch, vg.Inch))
}

func TestLossCurve(t *testing.T) {
	reports := []flow.EpochReport{
		{Epoch: 0, TrainLoss: 3, ValLoss: 3.2},
		{Epoch: 1, TrainLoss: 2, ValLoss: 2.5},
		{Epoch: 2, TrainLoss: 1.5, ValLoss: math.NaN()},
	}
	path := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, LossCurve(path, reports))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, LossCurve(path, nil))
}

func TestAutoRange(t *testing.T) {
	xmin, xmax, ymin, ymax := autoRange(plotter.XYs{{X: 0, Y: 5}, {X: 10, Y: 5}})
	assert.InDelta(t, -0.6, xmin, 1e-12)
	assert.InDelta(t, 10.6, xmax, 1e-12)
	assert.Equal(t, 4.0, ymin)
	assert.Equal(t, 6.0, ymax)

	xmin, xmax, _, _ = autoRange(nil)
	assert.Equal(t, -1.0, xmin)
	assert.Equal(t, 1.0, xmax)
}
