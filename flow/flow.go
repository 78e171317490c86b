// Package flow implements a RealNVP-style normalizing flow over the six
// derived subhalo features.
//
// A Flow is a fixed, ordered stack of affine coupling layers whose masks
// alternate by layer parity. Encode maps normalized data to the latent
// standard Gaussian and accumulates the log-determinant used by the
// likelihood; Decode is its exact inverse and is used for sampling.
//
// Training maximizes the weighted log-likelihood
//
//	loss = -mean_i( (log N(z_i; 0, I) + logDet_i) * w_i )
//
// where each weight is a multiplicity. Gradients are computed by the
// hand-written reverse pass in grad.go and applied with Adam (adam.go).
package flow

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Flow is the full bijection between data space and latent space.
type Flow struct {
	cfg    Config
	layers []Coupling
}

// New builds a randomly initialized flow. Zero config fields take defaults,
// including L2; pass NoL2 to train without regularization.
func New(cfg Config) (*Flow, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Flow{cfg: cfg, layers: make([]Coupling, cfg.Layers)}
	for l := range f.layers {
		f.layers[l] = newCoupling(rng, l, cfg)
	}
	return f, nil
}

// Config returns the configuration the flow was built with, defaults applied.
func (f *Flow) Config() Config {
	return f.cfg
}

// NumLayers returns the number of coupling layers.
func (f *Flow) NumLayers() int {
	return len(f.layers)
}

// Masks returns the mask of every layer in index order.
func (f *Flow) Masks() []Mask {
	out := make([]Mask, len(f.layers))
	for l, c := range f.layers {
		out[l] = c.Mask
	}
	return out
}

// Encode maps rows of normalized features to latent space, applying layers
// 0..N-1 in the encode direction. logDet[i] is log|det dz/dx| for row i.
func (f *Flow) Encode(x [][]float64) (z [][]float64, logDet []float64, err error) {
	m, err := toMatrix(x)
	if err != nil {
		return nil, nil, err
	}
	out, ld := f.Transform(m, Encode)
	return fromMatrix(out), ld, nil
}

// Decode maps latent rows back to normalized feature space, applying layers
// N-1..0 in the decode direction. logDet[i] is log|det dx/dz|, the negative
// of the matching Encode value; the loss does not use it.
func (f *Flow) Decode(z [][]float64) (x [][]float64, logDet []float64, err error) {
	m, err := toMatrix(z)
	if err != nil {
		return nil, nil, err
	}
	out, ld := f.Transform(m, Decode)
	return fromMatrix(out), ld, nil
}

// Transform runs the whole stack on a [rows][Dim] matrix in direction d.
func (f *Flow) Transform(x *mat.Dense, d Direction) (*mat.Dense, []float64) {
	out, ld, _ := f.transform(x, d, false)
	return out, ld
}

func (f *Flow) transform(x *mat.Dense, d Direction, keep bool) (*mat.Dense, []float64, []*couplingTrace) {
	rows, _ := x.Dims()
	logDet := make([]float64, rows)
	var traces []*couplingTrace
	if keep {
		traces = make([]*couplingTrace, len(f.layers))
	}

	step := func(l int) {
		var ld []float64
		var tr *couplingTrace
		x, ld, tr = f.layers[l].apply(x, d, keep)
		for i, v := range ld {
			logDet[i] += v
		}
		if keep {
			traces[l] = tr
		}
	}
	if d == Encode {
		for l := 0; l < len(f.layers); l++ {
			step(l)
		}
	} else {
		for l := len(f.layers) - 1; l >= 0; l-- {
			step(l)
		}
	}
	return x, logDet, traces
}

// LogProb returns the model log density of each normalized row:
// log N(z) + logDet.
func (f *Flow) LogProb(x [][]float64) ([]float64, error) {
	m, err := toMatrix(x)
	if err != nil {
		return nil, err
	}
	z, ld := f.Transform(m, Encode)
	out := make([]float64, len(ld))
	for i := range out {
		out[i] = BaseLogProb(z.RawRowView(i)) + ld[i]
	}
	return out, nil
}

// Loss is the weighted negative log-likelihood of the batch, averaged over
// rows. It excludes the L2 penalty.
func (f *Flow) Loss(b Batch) (float64, error) {
	if b.Len() == 0 {
		return 0, errors.Wrap(ErrShape, "empty batch")
	}
	z, ld := f.Transform(b.X, Encode)
	return weightedNLL(z, ld, b.W), nil
}

// weightedNLL computes -mean((log N(z_i) + logDet_i) * w_i).
func weightedNLL(z *mat.Dense, logDet, w []float64) float64 {
	var sum float64
	for i := range w {
		sum += (BaseLogProb(z.RawRowView(i)) + logDet[i]) * w[i]
	}
	return -sum / float64(len(w))
}

// zeroLike returns a flow with the same shape and all parameters zero.
func (f *Flow) zeroLike() *Flow {
	z := &Flow{cfg: f.cfg, layers: make([]Coupling, len(f.layers))}
	for l, c := range f.layers {
		z.layers[l] = Coupling{
			Mask:      c.Mask,
			Scale:     c.Scale.zeroLike(),
			Translate: c.Translate.zeroLike(),
		}
	}
	return z
}

// params returns every trainable parameter slice in a fixed order. The
// slices alias the model.
func (f *Flow) params() [][]float64 {
	var out [][]float64
	for _, c := range f.layers {
		out = c.Scale.params(out)
		out = c.Translate.params(out)
	}
	return out
}

func (f *Flow) kernels() [][]float64 {
	var out [][]float64
	for _, c := range f.layers {
		out = c.Scale.kernels(out)
		out = c.Translate.kernels(out)
	}
	return out
}

// NumParams returns the number of trainable scalars.
func (f *Flow) NumParams() int {
	n := 0
	for _, p := range f.params() {
		n += len(p)
	}
	return n
}

func (f *Flow) zeroParams() {
	for _, p := range f.params() {
		for i := range p {
			p[i] = 0
		}
	}
}
