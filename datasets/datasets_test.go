package datasets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/normalize"
)

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(header + "\n")
	require.NoError(t, err)
	for _, r := range rows {
		_, err = f.WriteString(r + "\n")
		require.NoError(t, err)
	}
}

func sampleDataset(t *testing.T, n int) *Weighted {
	t.Helper()
	x := make([][]float64, n)
	w := make([]float64, n)
	for i := range x {
		x[i] = []float64{float64(i), float64(2 * i), -float64(i), 0.5 * float64(i%5), float64(i % 3), float64(i * i)}
		w[i] = float64(i%4) + 0.5
	}
	d, err := FromRows(x, w)
	require.NoError(t, err)
	return d
}

func TestLoadCSVAcrossFiles(t *testing.T) {
	tmp := t.TempDir()
	// Columns deliberately out of order and with mixed case.
	header := "Weight,tidal_heating,radius_orbital,redshift_infall,mass_bound,concentration,mass_infall"
	writeCSV(t, filepath.Join(tmp, "a.csv"), header, []string{
		"2,-5,0.1,1.5,-0.3,8,-3",
		"1,-4,0.2,0.5,-0.1,9,-2.5",
	})
	writeCSV(t, filepath.Join(tmp, "b.csv"), header, []string{
		"0.5,-3,0.3,2,-1,10,-4",
	})

	d, err := LoadCSV(filepath.Join(tmp, "*.csv"))
	require.NoError(t, err)
	require.Equal(t, 3, d.Len())

	x, w, err := d.Example(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, 8, -0.3, 1.5, 0.1, -5}, x)
	assert.Equal(t, 2.0, w)

	_, w, err = d.Example(2)
	require.NoError(t, err)
	assert.Equal(t, 0.5, w)
	assert.Equal(t, 3.5, d.TotalWeight())
}

func TestLoadCSVErrors(t *testing.T) {
	tmp := t.TempDir()
	_, err := LoadCSV(filepath.Join(tmp, "*.csv"))
	assert.Error(t, err)

	path := filepath.Join(tmp, "missing_col.csv")
	writeCSV(t, path, "mass_infall,concentration,weight", []string{"1,2,3"})
	_, err = LoadCSV(path)
	assert.ErrorContains(t, err, "mass_bound")

	path = filepath.Join(tmp, "bad_value.csv")
	writeCSV(t, path, "mass_infall,concentration,mass_bound,redshift_infall,radius_orbital,tidal_heating,weight",
		[]string{"1,2,3,4,5,x,1"})
	_, err = LoadCSV(path)
	assert.Error(t, err)

	path = filepath.Join(tmp, "negative_weight.csv")
	writeCSV(t, path, "mass_infall,concentration,mass_bound,redshift_infall,radius_orbital,tidal_heating,weight",
		[]string{"1,2,3,4,5,6,-1"})
	_, err = LoadCSV(path)
	assert.ErrorIs(t, err, flow.ErrWeight)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	d := sampleDataset(t, 7)
	path := filepath.Join(t.TempDir(), "out", "features.csv")
	require.NoError(t, WriteCSV(path, d))

	back, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, d.Samples(), back.Samples())

	rows := [][]float64{{1, 2, 3, 4, 5, 6}, {0.1, 0.2, 0.3, 0.4, 0.5, 0.6}}
	fpath := filepath.Join(t.TempDir(), "samples.csv")
	require.NoError(t, WriteFeaturesCSV(fpath, rows))
	got, err := LoadFeaturesCSV(fpath)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestRowsAndShuffle(t *testing.T) {
	d := sampleDataset(t, 20)
	x, w, err := d.Rows([]int{3, 0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, x[0][0])
	assert.Equal(t, 0.0, x[1][0])
	assert.Equal(t, []float64{3.5, 0.5}, w)

	_, _, err = d.Rows([]int{20})
	assert.Error(t, err)

	a := sampleDataset(t, 20)
	b := sampleDataset(t, 20)
	a.Shuffle(42)
	b.Shuffle(42)
	assert.Equal(t, a.Samples(), b.Samples())
	assert.NotEqual(t, sampleDataset(t, 20).Samples(), a.Samples())
	assert.ElementsMatch(t, sampleDataset(t, 20).Samples(), a.Samples())
}

func TestSplitTakesTail(t *testing.T) {
	d := sampleDataset(t, 10)
	train, val, err := d.Split(0.2)
	require.NoError(t, err)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, val.Len())
	x, _, err := val.Example(0)
	require.NoError(t, err)
	assert.Equal(t, 8.0, x[0])

	_, _, err = d.Split(1)
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	d := sampleDataset(t, 10)
	even := d.Filter(func(s WeightedSample) bool { return int(s.Features[0])%2 == 0 })
	assert.Equal(t, 5, even.Len())
	empty := d.Filter(func(WeightedSample) bool { return false })
	assert.Equal(t, 0, empty.Len())
}

func TestNormalizeKeepsWeights(t *testing.T) {
	d := sampleDataset(t, 12)
	b, norm, err := d.Normalize(-1, 1)
	require.NoError(t, err)
	assert.Equal(t, flow.Dim, b.Dim())
	assert.Equal(t, d.Weights(), norm.Weights())
	for _, row := range norm.Features() {
		for _, v := range row[:3] {
			assert.GreaterOrEqual(t, v, -1.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}

	flat, err := FromRows([][]float64{{1, 2, 3, 4, 5, 6}, {2, 3, 3, 5, 6, 7}}, []float64{1, 1})
	require.NoError(t, err)
	_, _, err = flat.Normalize(-1, 1)
	assert.ErrorIs(t, err, normalize.ErrDegenerateColumn)

	var empty Weighted
	_, _, err = empty.Normalize(-1, 1)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFromRowsValidation(t *testing.T) {
	_, err := FromRows([][]float64{{1, 2, 3}}, []float64{1})
	assert.ErrorIs(t, err, flow.ErrShape)
	_, err = FromRows([][]float64{{1, 2, 3, 4, 5, 6}}, nil)
	assert.ErrorIs(t, err, flow.ErrShape)
}

func TestTensors(t *testing.T) {
	d := sampleDataset(t, 5)
	x, w, err := d.Tensors([]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{3, flow.Dim}, x.Shape().Dimensions)
	assert.Equal(t, []int{3}, w.Shape().Dimensions)
}
