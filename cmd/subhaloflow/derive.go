package main

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/subhaloflow/datasets"
	"github.com/Noofbiz/subhaloflow/galacticus"
)

func runDerive(cfg cliConfig) error {
	if cfg.Fields == "" {
		return errors.New("derive: --fields is required")
	}
	nodes, err := galacticus.ReadFieldsCSV(cfg.Fields)
	if err != nil {
		return errors.Wrap(err, "reading node fields")
	}
	klog.Infof("Loaded %d nodes from %s", len(nodes), cfg.Fields)

	ds, rep, err := galacticus.Derive(nodes, cfg.Galacticus)
	if err != nil {
		return errors.Wrap(err, "deriving features")
	}
	klog.Infof("Host node %d (mass %.4g): %d resolved subhalos", rep.HostIndex, rep.HostMass, rep.Subhalos)
	if rep.Dropped > 0 {
		klog.Warningf("Dropped %d subhalos with non-finite features or weights", rep.Dropped)
	}

	ts, err := galacticus.TreeCountStats(nodes, cfg.Galacticus)
	if err != nil {
		return errors.Wrap(err, "tree statistics")
	}
	klog.Infof("Subhalos per tree: mean=%.2f std=%.2f fractional std=%.3f min=%.0f max=%.0f",
		ts.Mean, ts.StdDev, ts.FractionalStd, ts.Min, ts.Max)

	if err := datasets.WriteCSV(cfg.Features, ds); err != nil {
		return errors.Wrap(err, "writing features")
	}
	klog.Infof("Wrote %d feature rows (total weight %.4g) to %s", ds.Len(), ds.TotalWeight(), cfg.Features)
	return nil
}
