package flow

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// StepResult is what one optimization step reports.
type StepResult struct {
	// Loss is the weighted negative log-likelihood of the batch.
	Loss float64
	// Penalty is the L2 term added to Loss in the objective.
	Penalty float64
	// GradNorm is the global L2 norm of the objective gradient before
	// clipping.
	GradNorm float64
}

// Objective returns Loss + Penalty, the quantity being minimized.
func (r StepResult) Objective() float64 {
	return r.Loss + r.Penalty
}

// lossAndGrad evaluates the objective on b and writes its gradient into
// grad, which must have the shape of f. grad is zeroed first.
func lossAndGrad(f *Flow, b Batch, grad *Flow) StepResult {
	grad.zeroParams()

	z, logDet, traces := f.transform(b.X, Encode, true)
	res := StepResult{Loss: weightedNLL(z, logDet, b.W)}

	// d/dz of -w*(log N(z))/n is w*z/n; d/d(logDet) of -w*logDet/n is -w/n.
	n := float64(b.Len())
	rows, _ := z.Dims()
	gz := mat.NewDense(rows, Dim, nil)
	gLogDet := make([]float64, rows)
	zd, gzd := z.RawMatrix().Data, gz.RawMatrix().Data
	for i := 0; i < rows; i++ {
		c := b.W[i] / n
		for j := 0; j < Dim; j++ {
			gzd[i*Dim+j] = c * zd[i*Dim+j]
		}
		gLogDet[i] = -c
	}

	g := gz
	for l := len(f.layers) - 1; l >= 0; l-- {
		g = f.layers[l].backward(traces[l], g, gLogDet, &grad.layers[l])
	}

	if l2 := f.cfg.L2; l2 > 0 {
		gk := grad.kernels()
		for k, w := range f.kernels() {
			res.Penalty += l2 * floats.Dot(w, w)
			floats.AddScaled(gk[k], 2*l2, w)
		}
	}

	var ss float64
	for _, p := range grad.params() {
		ss += floats.Dot(p, p)
	}
	res.GradNorm = math.Sqrt(ss)
	return res
}
