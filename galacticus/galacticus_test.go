package galacticus

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var toyAttrs = Attributes{MassResolution: 1e6, MassTree: 1e12, TreeCount: 2}

func toyTree() []Node {
	return []Node{
		{Weight: 1, TreeIndex: 1, IsIsolated: true, MassBasic: 1e12, RadiusVirial: 0.2, VelocityVirial: 150},
		{
			Weight: 3, TreeIndex: 1, MassBasic: 1e10, MassBound: 5e9, Concentration: 10,
			RedshiftLastIsolated: 1.5, PositionX: 0.03, PositionY: 0.04,
			TidalHeating: 2, RadiusVirial: 0.05, VelocityVirial: 50,
		},
		// Below twice the resolution.
		{Weight: 7, TreeIndex: 2, MassBasic: 1.5e6, MassBound: 1e6, RadiusVirial: 0.01, VelocityVirial: 5},
		// Fully stripped: log10(0) is not finite.
		{Weight: 2, TreeIndex: 2, MassBasic: 1e8, MassBound: 0, PositionX: 0.1, RadiusVirial: 0.02, VelocityVirial: 20},
		{Weight: 5, TreeIndex: 1, IsIsolated: true, MassBasic: 1e11, RadiusVirial: 0.1, VelocityVirial: 80},
	}
}

func TestDeriveToyTree(t *testing.T) {
	d, rep, err := Derive(toyTree(), toyAttrs)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Nodes)
	assert.Equal(t, 2, rep.Subhalos)
	assert.Equal(t, 1, rep.Dropped)
	assert.Equal(t, 0, rep.HostIndex)
	assert.Equal(t, 1e12, rep.HostMass)

	require.Equal(t, 1, d.Len())
	x, w, err := d.Example(0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, w)
	want := []float64{
		-2,
		10,
		math.Log10(0.5),
		1.5,
		math.Log10(0.25),
		math.Log10(3e-6),
	}
	assert.InDeltaSlice(t, want, x, 1e-12)
}

func TestDeriveErrors(t *testing.T) {
	nodes := toyTree()[1:4]
	_, _, err := Derive(nodes, toyAttrs)
	assert.ErrorIs(t, err, ErrNoHost)

	_, _, err = Derive(toyTree(), Attributes{MassTree: 1, TreeCount: 1})
	assert.Error(t, err)
	_, _, err = Derive(toyTree(), Attributes{MassResolution: 1, MassTree: math.Inf(1), TreeCount: 1})
	assert.Error(t, err)
	_, _, err = Derive(toyTree(), Attributes{MassResolution: 1, MassTree: 1})
	assert.Error(t, err)
}

func TestTreeCountStats(t *testing.T) {
	ts, err := TreeCountStats(toyTree(), toyAttrs)
	require.NoError(t, err)
	// Tree 1: 3; tree 2: 7 + 2. Isolated nodes never count.
	assert.Equal(t, []float64{3, 9}, ts.Counts)
	assert.Equal(t, 6.0, ts.Mean)
	assert.InDelta(t, 3.0, ts.StdDev, 1e-12)
	assert.InDelta(t, 0.5, ts.FractionalStd, 1e-12)
	assert.Equal(t, 3.0, ts.Min)
	assert.Equal(t, 9.0, ts.Max)

	ts, err = TreeCountStats(toyTree()[:1], Attributes{TreeCount: 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, ts.Counts)
	assert.True(t, math.IsNaN(ts.FractionalStd))

	_, err = TreeCountStats(toyTree(), Attributes{})
	assert.Error(t, err)
}

func TestFieldsCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.csv")
	require.NoError(t, WriteFieldsCSV(path, toyTree()))
	nodes, err := ReadFieldsCSV(path)
	require.NoError(t, err)
	assert.Equal(t, toyTree(), nodes)

	d, _, err := Derive(nodes, toyAttrs)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())
}

func TestNodeFromRowRejectsBadFlags(t *testing.T) {
	row := make([]float64, len(FieldColumns))
	row[2] = 0.5
	_, err := nodeFromRow(row)
	assert.Error(t, err)

	row[2] = 1
	row[1] = 1.5
	_, err = nodeFromRow(row)
	assert.Error(t, err)
}
