package galacticus

import (
	"math"

	"github.com/pkg/errors"

	"github.com/Noofbiz/subhaloflow/datasets"
)

// FieldColumns are the raw CSV columns, named after the node datasets they
// were exported from.
var FieldColumns = []string{
	"nodeSubsamplingWeight",
	"mergerTreeIndex",
	"nodeIsIsolated",
	"basicMass",
	"satelliteBoundMass",
	"concentration",
	"redshiftLastIsolated",
	"positionOrbitalX",
	"positionOrbitalY",
	"positionOrbitalZ",
	"satelliteTidalHeatingNormalized",
	"darkMatterOnlyRadiusVirial",
	"darkMatterOnlyVelocityVirial",
}

// ReadFieldsCSV reads raw node data from the CSV files matching pattern.
func ReadFieldsCSV(pattern string) ([]Node, error) {
	rows, err := datasets.ReadTable(pattern, FieldColumns)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, len(rows))
	for i, r := range rows {
		n, err := nodeFromRow(r)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		nodes[i] = n
	}
	return nodes, nil
}

// WriteFieldsCSV writes nodes with the FieldColumns header.
func WriteFieldsCSV(path string, nodes []Node) error {
	rows := make([][]float64, len(nodes))
	for i, n := range nodes {
		iso := 0.0
		if n.IsIsolated {
			iso = 1
		}
		rows[i] = []float64{
			n.Weight, float64(n.TreeIndex), iso,
			n.MassBasic, n.MassBound, n.Concentration, n.RedshiftLastIsolated,
			n.PositionX, n.PositionY, n.PositionZ,
			n.TidalHeating, n.RadiusVirial, n.VelocityVirial,
		}
	}
	return datasets.WriteTable(path, FieldColumns, rows)
}

func nodeFromRow(r []float64) (Node, error) {
	tree := r[1]
	if tree != math.Trunc(tree) {
		return Node{}, errors.Errorf("mergerTreeIndex %v is not an integer", tree)
	}
	var iso bool
	switch r[2] {
	case 0:
	case 1:
		iso = true
	default:
		return Node{}, errors.Errorf("nodeIsIsolated must be 0 or 1, got %v", r[2])
	}
	return Node{
		Weight:               r[0],
		TreeIndex:            int(tree),
		IsIsolated:           iso,
		MassBasic:            r[3],
		MassBound:            r[4],
		Concentration:        r[5],
		RedshiftLastIsolated: r[6],
		PositionX:            r[7],
		PositionY:            r[8],
		PositionZ:            r[9],
		TidalHeating:         r[10],
		RadiusVirial:         r[11],
		VelocityVirial:       r[12],
	}, nil
}
