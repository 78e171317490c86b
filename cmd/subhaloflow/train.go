package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/subhaloflow/datasets"
	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/metrics"
	"github.com/Noofbiz/subhaloflow/normalize"
	"github.com/Noofbiz/subhaloflow/plots"
)

func runTrain(ctx context.Context, cfg cliConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := datasets.LoadCSV(cfg.Features)
	if err != nil {
		return errors.Wrap(err, "loading features")
	}
	bounds, ds, err := src.Normalize(normalize.DefaultLo, normalize.DefaultHi)
	if err != nil {
		return errors.Wrap(err, "normalizing features")
	}

	f, err := flow.New(cfg.Flow)
	if err != nil {
		return err
	}
	fc := f.Config()
	// Rows arrive grouped by tree; mix them once so the validation tail is
	// a random subset.
	ds.Shuffle(fc.Seed)

	m := metrics.NewTraining()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Warningf("metrics server: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		klog.Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	logEpoch := func(r flow.EpochReport) {
		klog.Infof("[Train] epoch %d/%d loss=%.5f val_loss=%.5f", r.Epoch, fc.Epochs, r.TrainLoss, r.ValLoss)
	}

	klog.Infof("Training %s flow: %d layers, %d parameters, %d rows (epochs=%d, batch=%d, lr=%g)",
		cfg.Engine, f.NumLayers(), f.NumParams(), ds.Len(), fc.Epochs, fc.BatchSize, fc.LearningRate)
	start := time.Now()
	reports, err := engines[cfg.Engine](ctx, f, ds, logEpoch, m.Hook())
	switch {
	case errors.Is(err, context.Canceled):
		klog.Warningf("Training interrupted after %d epochs; saving the current parameters", len(reports))
	case err != nil:
		m.RecordError(err)
		return errors.Wrap(err, "training")
	}
	klog.Infof("Training completed in %v", time.Since(start))

	if err := flow.Save(cfg.Snapshot, f, bounds); err != nil {
		return errors.Wrap(err, "saving snapshot")
	}
	klog.Infof("Saved snapshot to %s", cfg.Snapshot)

	if len(reports) > 0 {
		if err := plots.LossCurve(cfg.out("loss.png"), reports); err != nil {
			return errors.Wrap(err, "plotting loss")
		}
		klog.Infof("Loss curve written to %s", cfg.out("loss.png"))
	}
	return nil
}
