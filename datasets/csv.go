package datasets

import (
	"github.com/Noofbiz/subhaloflow/flow"
)

// FeatureColumns are the CSV column names of the six features, in
// flow.FeatureVector order.
var FeatureColumns = []string{
	"mass_infall",
	"concentration",
	"mass_bound",
	"redshift_infall",
	"radius_orbital",
	"tidal_heating",
}

// WeightColumn is the CSV column holding the per-row weight.
const WeightColumn = "weight"

// Header returns the feature columns followed by the weight column.
func Header() []string {
	return append(append([]string(nil), FeatureColumns...), WeightColumn)
}

// LoadCSV reads one or more feature CSV files (pattern is passed to
// filepath.Glob) into a Weighted dataset. Column order in the files does not
// matter; names are matched case-insensitively.
func LoadCSV(pattern string) (*Weighted, error) {
	rows, err := ReadTable(pattern, Header())
	if err != nil {
		return nil, err
	}
	samples := make([]WeightedSample, len(rows))
	for i, r := range rows {
		copy(samples[i].Features[:], r[:flow.Dim])
		samples[i].Weight = r[flow.Dim]
	}
	return NewWeighted(samples)
}

// WriteCSV writes d in its current order with the Header columns.
func WriteCSV(path string, d *Weighted) error {
	rows := make([][]float64, 0, d.Len())
	for _, s := range d.Samples() {
		rows = append(rows, append(append([]float64(nil), s.Features[:]...), s.Weight))
	}
	return WriteTable(path, Header(), rows)
}

// WriteFeaturesCSV writes unweighted feature rows, such as emulated samples,
// with the feature columns only.
func WriteFeaturesCSV(path string, rows [][]float64) error {
	return WriteTable(path, FeatureColumns, rows)
}

// LoadFeaturesCSV reads rows written by WriteFeaturesCSV.
func LoadFeaturesCSV(pattern string) ([][]float64, error) {
	return ReadTable(pattern, FeatureColumns)
}
