// Package galacticus turns per-node merger-tree output into the six subhalo
// features the flow is trained on.
//
// The raw fields are the node datasets written by a Galacticus run
// (Outputs/Output1/nodeData/*), exported one column per dataset. The three
// scalar attributes the derivation needs (mass resolution, tree mass and
// tree count) live in the run parameters and are supplied separately.
package galacticus

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/subhaloflow/datasets"
	"github.com/Noofbiz/subhaloflow/flow"
)

// ErrNoHost is returned when no isolated node exists to act as the host.
var ErrNoHost = errors.New("galacticus: no isolated host node")

// tidalFloor keeps the tidal heating logarithm finite for unheated subhalos.
const tidalFloor = 1e-6

// Node is one row of raw node data.
type Node struct {
	Weight               float64
	TreeIndex            int
	IsIsolated           bool
	MassBasic            float64
	MassBound            float64
	Concentration        float64
	RedshiftLastIsolated float64
	PositionX            float64
	PositionY            float64
	PositionZ            float64
	TidalHeating         float64
	RadiusVirial         float64
	VelocityVirial       float64
}

// Attributes are the run-level scalars the derivation depends on.
type Attributes struct {
	MassResolution float64 `mapstructure:"mass_resolution"`
	MassTree       float64 `mapstructure:"mass_tree"`
	TreeCount      int     `mapstructure:"tree_count"`
}

// Validate checks that every attribute is set and positive.
func (a Attributes) Validate() error {
	switch {
	case !(a.MassResolution > 0) || math.IsInf(a.MassResolution, 0):
		return errors.Errorf("galacticus: mass resolution must be positive, got %v", a.MassResolution)
	case !(a.MassTree > 0) || math.IsInf(a.MassTree, 0):
		return errors.Errorf("galacticus: tree mass must be positive, got %v", a.MassTree)
	case a.TreeCount < 1:
		return errors.Errorf("galacticus: tree count must be positive, got %d", a.TreeCount)
	}
	return nil
}

// Report describes what Derive kept and dropped.
type Report struct {
	Nodes     int
	Subhalos  int
	Dropped   int
	HostMass  float64
	HostIndex int
}

// Derive selects the resolved subhalos (non-isolated, basic mass above twice
// the resolution) and computes, relative to the host (the first isolated
// node):
//
//	mass_infall     log10(M_basic / M_host)
//	concentration   c
//	mass_bound      log10(M_bound / M_basic)
//	redshift_infall z_last_isolated
//	radius_orbital  log10(|r| / R_vir,host)
//	tidal_heating   log10(1e-6 + Q * R_vir^2 / V_vir^2)
//
// Subhalos whose features are not finite, for example a zero bound mass,
// are dropped and counted in the report. The node subsampling weight
// becomes the sample weight.
func Derive(nodes []Node, attrs Attributes) (*datasets.Weighted, Report, error) {
	rep := Report{Nodes: len(nodes), HostIndex: -1}
	if err := attrs.Validate(); err != nil {
		return nil, rep, err
	}
	for i, n := range nodes {
		if n.IsIsolated {
			rep.HostIndex = i
			break
		}
	}
	if rep.HostIndex < 0 {
		return nil, rep, ErrNoHost
	}
	host := nodes[rep.HostIndex]
	rep.HostMass = host.MassBasic

	var samples []datasets.WeightedSample
	for _, n := range nodes {
		if n.IsIsolated || !(n.MassBasic > 2*attrs.MassResolution) {
			continue
		}
		rep.Subhalos++
		f := features(n, host)
		if !finite(f[:]) || math.IsNaN(n.Weight) || math.IsInf(n.Weight, 0) || n.Weight < 0 {
			rep.Dropped++
			continue
		}
		samples = append(samples, datasets.WeightedSample{Features: f, Weight: n.Weight})
	}
	d, err := datasets.NewWeighted(samples)
	if err != nil {
		return nil, rep, err
	}
	return d, rep, nil
}

func features(n, host Node) flow.FeatureVector {
	r := math.Sqrt(n.PositionX*n.PositionX + n.PositionY*n.PositionY + n.PositionZ*n.PositionZ)
	return flow.FeatureVector{
		math.Log10(n.MassBasic / host.MassBasic),
		n.Concentration,
		math.Log10(n.MassBound / n.MassBasic),
		n.RedshiftLastIsolated,
		math.Log10(r / host.RadiusVirial),
		math.Log10(tidalFloor + n.TidalHeating/(n.VelocityVirial*n.VelocityVirial)*n.RadiusVirial*n.RadiusVirial),
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// TreeStats summarizes the weighted number of subhalos per merger tree.
type TreeStats struct {
	Counts        []float64
	Mean          float64
	StdDev        float64
	FractionalStd float64
	Min           float64
	Max           float64
}

// TreeCountStats sums the weights of the non-isolated nodes of each tree.
// Trees are numbered from 1 to attrs.TreeCount; nodes with other tree
// indices are ignored. The standard deviation is the population one.
func TreeCountStats(nodes []Node, attrs Attributes) (TreeStats, error) {
	if attrs.TreeCount < 1 {
		return TreeStats{}, errors.Errorf("galacticus: tree count must be positive, got %d", attrs.TreeCount)
	}
	counts := make([]float64, attrs.TreeCount)
	for _, n := range nodes {
		if n.IsIsolated || n.TreeIndex < 1 || n.TreeIndex > attrs.TreeCount {
			continue
		}
		counts[n.TreeIndex-1] += n.Weight
	}
	mean, variance := stat.PopMeanVariance(counts, nil)
	ts := TreeStats{
		Counts: counts,
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Min:    floats.Min(counts),
		Max:    floats.Max(counts),
	}
	if mean != 0 {
		ts.FractionalStd = ts.StdDev / mean
	} else {
		ts.FractionalStd = math.NaN()
	}
	return ts, nil
}
