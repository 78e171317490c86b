package flow

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// dense is one fully connected layer. W has shape [in][out] so a batch is
// propagated as X*W + B.
type dense struct {
	W *mat.Dense
	B []float64
}

// newDense draws W from a Glorot/Xavier uniform distribution and zeroes B.
func newDense(rng *rand.Rand, in, out int) dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2.0 - 1.0) * limit
	}
	return dense{W: mat.NewDense(in, out, w), B: make([]float64, out)}
}

func (d dense) dims() (in, out int) {
	return d.W.Dims()
}

// forward returns x*W + B for a [batch][in] matrix.
func (d dense) forward(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	_, out := d.W.Dims()
	a := mat.NewDense(r, out, nil)
	a.Mul(x, d.W)
	data := a.RawMatrix().Data
	for i := 0; i < r; i++ {
		floats.Add(data[i*out:(i+1)*out], d.B)
	}
	return a
}

// mlp is a scale or translate sub-network: ReLU hidden layers followed by a
// tanh output layer, which keeps s and t inside (-1, 1).
type mlp struct {
	layers []dense
}

func newMLP(rng *rand.Rand, in, width, depth, out int) mlp {
	n := mlp{layers: make([]dense, 0, depth+1)}
	prev := in
	for k := 0; k < depth; k++ {
		n.layers = append(n.layers, newDense(rng, prev, width))
		prev = width
	}
	n.layers = append(n.layers, newDense(rng, prev, out))
	return n
}

// zeroLike allocates an mlp of the same shape with every parameter at zero.
// It is used as a gradient accumulator.
func (n mlp) zeroLike() mlp {
	z := mlp{layers: make([]dense, len(n.layers))}
	for k, l := range n.layers {
		in, out := l.dims()
		z.layers[k] = dense{W: mat.NewDense(in, out, nil), B: make([]float64, out)}
	}
	return z
}

// mlpTrace keeps what backward needs: the input of every layer and the
// final tanh output.
type mlpTrace struct {
	inputs []*mat.Dense
	out    *mat.Dense
}

func (n mlp) forward(x *mat.Dense, keep bool) (*mat.Dense, *mlpTrace) {
	var tr *mlpTrace
	if keep {
		tr = &mlpTrace{inputs: make([]*mat.Dense, len(n.layers))}
	}
	h := x
	last := len(n.layers) - 1
	for k, l := range n.layers {
		if keep {
			tr.inputs[k] = h
		}
		a := l.forward(h)
		data := a.RawMatrix().Data
		if k < last {
			for i, v := range data {
				if v < 0 {
					data[i] = 0
				}
			}
		} else {
			for i, v := range data {
				data[i] = math.Tanh(v)
			}
		}
		h = a
	}
	if keep {
		tr.out = h
	}
	return h, tr
}

// backward accumulates parameter gradients into grad given dL/d(output) and
// returns dL/d(input).
func (n mlp) backward(tr *mlpTrace, gOut *mat.Dense, grad mlp) *mat.Dense {
	r, c := gOut.Dims()
	delta := mat.NewDense(r, c, nil)
	dd := delta.RawMatrix().Data
	g := gOut.RawMatrix().Data
	o := tr.out.RawMatrix().Data
	for i := range dd {
		dd[i] = g[i] * (1 - o[i]*o[i])
	}

	for k := len(n.layers) - 1; k >= 0; k-- {
		in := tr.inputs[k]
		gl := grad.layers[k]

		var gW mat.Dense
		gW.Mul(in.T(), delta)
		gl.W.Add(gl.W, &gW)
		addColumnSums(gl.B, delta)

		_, inDim := in.Dims()
		prev := mat.NewDense(r, inDim, nil)
		prev.Mul(delta, n.layers[k].W.T())
		if k > 0 {
			// in holds the post-ReLU activations of layer k-1.
			pd := prev.RawMatrix().Data
			for i, v := range in.RawMatrix().Data {
				if v <= 0 {
					pd[i] = 0
				}
			}
		}
		delta = prev
	}
	return delta
}

// params appends the parameter slices of n in a fixed order. The slices
// alias the matrices, so updating them updates the network.
func (n mlp) params(dst [][]float64) [][]float64 {
	for _, l := range n.layers {
		dst = append(dst, l.W.RawMatrix().Data, l.B)
	}
	return dst
}

// kernels appends only the weight matrices, which are the regularized ones.
func (n mlp) kernels(dst [][]float64) [][]float64 {
	for _, l := range n.layers {
		dst = append(dst, l.W.RawMatrix().Data)
	}
	return dst
}

func addColumnSums(dst []float64, m *mat.Dense) {
	r, c := m.Dims()
	data := m.RawMatrix().Data
	for i := 0; i < r; i++ {
		floats.Add(dst, data[i*c:(i+1)*c])
	}
}
