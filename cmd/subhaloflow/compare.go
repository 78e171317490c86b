package main

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/subhaloflow/datasets"
	"github.com/Noofbiz/subhaloflow/diagnostics"
	"github.com/Noofbiz/subhaloflow/monte"
	"github.com/Noofbiz/subhaloflow/plots"
)

// comparison is what runCompare measured.
type comparison struct {
	Generated int
	Valid     int

	// Source is the number of points in each density panel.
	Source int

	SourceRatio float64
	ValidRatio  float64

	// LatentDev is diagnostics.LatentDeviation of the encoded source rows.
	LatentDev float64
}

func runCompare(cfg cliConfig) (comparison, error) {
	var res comparison
	if err := cfg.Galacticus.Validate(); err != nil {
		return res, err
	}
	src, err := datasets.LoadCSV(cfg.Features)
	if err != nil {
		return res, errors.Wrap(err, "loading features")
	}
	s, err := loadSampler(cfg)
	if err != nil {
		return res, err
	}

	generated, err := s.Sample(cfg.Samples)
	if err != nil {
		return res, errors.Wrap(err, "sampling")
	}
	res.Generated = len(generated)
	limits := diagnostics.Limits{MassResolution: cfg.Galacticus.MassResolution, MassTree: cfg.Galacticus.MassTree}
	valid, _ := diagnostics.ValidityFilter(generated, limits)
	res.Valid = len(valid)
	klog.Infof("Generated %d subhalos, %d physically valid (%.1f%%)", res.Generated, res.Valid, 100*float64(res.Valid)/float64(res.Generated))
	if err := datasets.WriteFeaturesCSV(cfg.out("samples_valid.csv"), valid); err != nil {
		return res, errors.Wrap(err, "writing valid samples")
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	source, paired, err := pairedPanels(src, valid, rand.New(rand.NewSource(seed)))
	if err != nil {
		return res, err
	}
	res.Source = len(source)

	res.SourceRatio = ratio("source", func() (float64, error) {
		return diagnostics.WeightedMassRatio(src.Features(), src.Weights())
	})
	res.ValidRatio = ratio("emulated", func() (float64, error) {
		return diagnostics.CountMassRatio(valid)
	})

	logMoments("source", src.Features(), src.Weights())
	logMoments("emulated", valid, nil)

	norm, err := s.Bounds.Apply(src.Features())
	if err != nil {
		return res, errors.Wrap(err, "normalizing source")
	}
	z, err := s.Encode(norm)
	if err != nil {
		return res, errors.Wrap(err, "encoding source")
	}
	res.LatentDev, err = diagnostics.LatentDeviation(z)
	if err != nil {
		return res, err
	}
	klog.Infof("Encoded source: largest latent deviation from N(0,1) is %.3f", res.LatentDev)

	panels, err := plots.FeaturePanels(source, paired)
	if err != nil {
		return res, err
	}
	if err := plots.DensityGrid(cfg.out("density.png"), panels, 15*vg.Inch, 18*vg.Inch); err != nil {
		return res, errors.Wrap(err, "plotting densities")
	}
	klog.Infof("Comparison plots written to %s", cfg.OutDir)
	return res, nil
}

// pairedPanels draws one source row per valid generated row, with
// probability proportional to weight, then drops the tidal-heating outliers
// of the source draw from both sides by position.
func pairedPanels(src *datasets.Weighted, valid [][]float64, rng *rand.Rand) (source, generated [][]float64, err error) {
	if len(valid) == 0 {
		return nil, nil, nil
	}
	idx, err := monte.WeightedSubsample(src.Weights(), len(valid), rng)
	if err != nil {
		return nil, nil, errors.Wrap(err, "resampling source")
	}
	source, mask := diagnostics.TidalClip(diagnostics.Subset(src.Features(), idx), diagnostics.DefaultTidalFloor)
	return source, diagnostics.Masked(valid, mask), nil
}

func ratio(name string, fn func() (float64, error)) float64 {
	r, err := fn()
	if err != nil {
		klog.Warningf("%s mass ratio: %v", name, err)
		return math.NaN()
	}
	klog.Infof("%s N(>%g)/N(>%g) = %.3f", name, diagnostics.RatioLowMass, diagnostics.RatioHighMass, r)
	return r
}

func logMoments(name string, rows [][]float64, weights []float64) {
	m, err := diagnostics.Moments(rows, weights)
	if err != nil {
		klog.Warningf("%s moments: %v", name, err)
		return
	}
	for j, c := range m {
		klog.Infof("%s %-16s mean=%8.3f std=%7.3f range=[%.3f, %.3f]", name, datasets.FeatureColumns[j], c.Mean, c.StdDev, c.Min, c.Max)
	}
}
