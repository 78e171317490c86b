package flow

import (
	"math"

	"github.com/pkg/errors"
)

// Adam is the Adam optimizer. Its moment buffers are allocated on the first
// step and tied to the parameter layout of the flow it updates.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	ClipNorm     float64

	step int
	m, v [][]float64

	// scratch is the gradient buffer, shaped like the model.
	scratch *Flow
}

// NewAdam returns an optimizer configured from cfg (defaults applied).
func NewAdam(cfg Config) *Adam {
	cfg = cfg.withDefaults()
	return &Adam{
		LearningRate: cfg.LearningRate,
		Beta1:        cfg.Beta1,
		Beta2:        cfg.Beta2,
		Epsilon:      cfg.Epsilon,
		ClipNorm:     cfg.ClipNorm,
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}

func (a *Adam) gradBuffer(f *Flow) *Flow {
	if a.scratch == nil || a.scratch.NumParams() != f.NumParams() {
		a.scratch = f.zeroLike()
	}
	return a.scratch
}

// update applies one Adam step to params with gradient grads. gradNorm is
// the global gradient norm used for clipping.
func (a *Adam) update(params, grads [][]float64, gradNorm float64) error {
	if len(params) != len(grads) {
		return errors.Errorf("adam: %d parameter slices but %d gradients", len(params), len(grads))
	}
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for k, p := range params {
			a.m[k] = make([]float64, len(p))
			a.v[k] = make([]float64, len(p))
		}
	}
	if len(a.m) != len(params) {
		return errors.Errorf("adam: optimizer state has %d slices, model has %d", len(a.m), len(params))
	}

	scale := 1.0
	if a.ClipNorm > 0 && gradNorm > a.ClipNorm {
		scale = a.ClipNorm / gradNorm
	}

	a.step++
	t := float64(a.step)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
	for k, p := range params {
		g, m, v := grads[k], a.m[k], a.v[k]
		if len(g) != len(p) || len(m) != len(p) {
			return errors.Errorf("adam: slice %d has %d parameters, gradient %d, state %d", k, len(p), len(g), len(m))
		}
		for i := range p {
			gi := g[i] * scale
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*gi
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*gi*gi
			p[i] -= lr * m[i] / (math.Sqrt(v[i]) + a.Epsilon)
		}
	}
	return nil
}
