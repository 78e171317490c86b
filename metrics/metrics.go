// Package metrics exposes training progress as Prometheus collectors.
package metrics

import (
	"math"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Noofbiz/subhaloflow/flow"
)

const namespace = "subhaloflow"

// Training holds the collectors for one training run on its own registry.
type Training struct {
	Registry   *prometheus.Registry
	TrainLoss  prometheus.Gauge
	ValLoss    prometheus.Gauge
	Epochs     prometheus.Counter
	Steps      prometheus.Counter
	Divergence prometheus.Counter
}

// NewTraining creates the training collectors and registers them on a fresh
// registry, so several runs in one process do not collide.
func NewTraining() *Training {
	t := &Training{
		Registry: prometheus.NewRegistry(),
		TrainLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_loss",
			Help:      "Mean weighted negative log-likelihood of the last training epoch.",
		}),
		ValLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "val_loss",
			Help:      "Weighted negative log-likelihood on the validation split after the last epoch.",
		}),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Completed training epochs.",
		}),
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Applied optimizer steps.",
		}),
		Divergence: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "divergence_total",
			Help:      "Training runs aborted by a non-finite loss or gradient.",
		}),
	}
	t.Registry.MustRegister(t.TrainLoss, t.ValLoss, t.Epochs, t.Steps, t.Divergence)
	return t
}

// Observe records one epoch report.
func (t *Training) Observe(r flow.EpochReport) {
	t.TrainLoss.Set(r.TrainLoss)
	if !math.IsNaN(r.ValLoss) {
		t.ValLoss.Set(r.ValLoss)
	}
	t.Epochs.Inc()
	t.Steps.Add(float64(r.Steps))
}

// Hook adapts Observe to flow.Train.
func (t *Training) Hook() flow.EpochHook {
	return t.Observe
}

// RecordError counts err when it is a divergence.
func (t *Training) RecordError(err error) {
	if errors.Is(err, flow.ErrDivergence) {
		t.Divergence.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Training) Handler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{})
}
