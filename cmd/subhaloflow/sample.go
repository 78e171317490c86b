package main

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/subhaloflow/datasets"
	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/monte"
)

func loadSampler(cfg cliConfig) (*monte.Sampler, error) {
	f, bounds, info, err := flow.LoadWithInfo(cfg.Snapshot, cfg.Flow)
	if err != nil {
		return nil, errors.Wrapf(err, "loading snapshot %s", cfg.Snapshot)
	}
	klog.V(1).Infof("Loaded snapshot %s (run %s, %d layers, created %s)", cfg.Snapshot, info.RunID, info.Layers, info.CreatedAt.Format("2006-01-02 15:04"))
	return monte.NewSampler(f, bounds, cfg.Seed)
}

// runSample writes cfg.Samples emulated subhalos, unfiltered, to
// samples.csv in the output directory and returns them.
func runSample(cfg cliConfig) ([][]float64, error) {
	s, err := loadSampler(cfg)
	if err != nil {
		return nil, err
	}
	rows, err := s.Sample(cfg.Samples)
	if err != nil {
		return nil, errors.Wrap(err, "sampling")
	}
	if err := datasets.WriteFeaturesCSV(cfg.out("samples.csv"), rows); err != nil {
		return nil, errors.Wrap(err, "writing samples")
	}
	klog.Infof("Wrote %d samples to %s", len(rows), cfg.out("samples.csv"))
	return rows, nil
}
