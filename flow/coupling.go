package flow

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Direction selects which way a coupling layer is applied.
type Direction int

const (
	// Encode maps data to latent space (D = -1). Training runs this way.
	Encode Direction = -1
	// Decode maps latent space to data (D = +1). Sampling runs this way.
	Decode Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Encode:
		return "encode"
	case Decode:
		return "decode"
	}
	return "invalid"
}

// gate is (D-1)/2: -1 when encoding, 0 when decoding.
func (d Direction) gate() float64 {
	return (float64(d) - 1) / 2
}

// Coupling is one affine coupling layer. Dimensions where Mask is 1 pass
// through unchanged and condition the scale and translation applied to the
// others.
type Coupling struct {
	Mask      Mask
	Scale     mlp
	Translate mlp
}

func newCoupling(rng *rand.Rand, layer int, cfg Config) Coupling {
	return Coupling{
		Mask:      MaskFor(layer),
		Scale:     newMLP(rng, Dim, cfg.Width, cfg.HiddenLayers, Dim),
		Translate: newMLP(rng, Dim, cfg.Width, cfg.HiddenLayers, Dim),
	}
}

type couplingTrace struct {
	x, s, t          *mat.Dense
	scale, translate *mlpTrace
}

// apply runs the layer in direction d:
//
//	x' = (1-mask)*(x*exp(D*s) + D*t*exp(gate*s)) + x*mask
//
// and returns the per-row log|det(dx'/dx)|, which is D*sum(s). When encoding
// this equals gate*sum(s); when decoding it is the decode Jacobian, which the
// loss never uses.
func (c *Coupling) apply(x *mat.Dense, d Direction, keep bool) (*mat.Dense, []float64, *couplingTrace) {
	rows, _ := x.Dims()
	rev := c.Mask.Complement()

	xm := maskColumns(x, c.Mask)
	sRaw, sTr := c.Scale.forward(xm, keep)
	tRaw, tTr := c.Translate.forward(xm, keep)
	s := maskColumns(sRaw, rev)
	t := maskColumns(tRaw, rev)

	dir := float64(d)
	gate := d.gate()
	y := mat.NewDense(rows, Dim, nil)
	logDet := make([]float64, rows)

	xd, xmd := x.RawMatrix().Data, xm.RawMatrix().Data
	sd, td, yd := s.RawMatrix().Data, t.RawMatrix().Data, y.RawMatrix().Data
	for i := 0; i < rows; i++ {
		var sum float64
		for j := 0; j < Dim; j++ {
			k := i*Dim + j
			yd[k] = rev[j]*(xd[k]*math.Exp(dir*sd[k])+dir*td[k]*math.Exp(gate*sd[k])) + xmd[k]
			sum += sd[k]
		}
		logDet[i] = dir * sum
	}

	var tr *couplingTrace
	if keep {
		tr = &couplingTrace{x: x, s: s, t: t, scale: sTr, translate: tTr}
	}
	return y, logDet, tr
}

// backward propagates through an encode-direction application recorded in
// tr. gy is dL/dy, gLogDet is dL/d(logDet) per row. Parameter gradients are
// accumulated into grad and dL/dx is returned.
func (c *Coupling) backward(tr *couplingTrace, gy *mat.Dense, gLogDet []float64, grad *Coupling) *mat.Dense {
	rows, _ := gy.Dims()
	rev := c.Mask.Complement()

	gx := mat.NewDense(rows, Dim, nil)
	gS := mat.NewDense(rows, Dim, nil)
	gT := mat.NewDense(rows, Dim, nil)

	gyd, xd := gy.RawMatrix().Data, tr.x.RawMatrix().Data
	sd, td := tr.s.RawMatrix().Data, tr.t.RawMatrix().Data
	gxd, gSd, gTd := gx.RawMatrix().Data, gS.RawMatrix().Data, gT.RawMatrix().Data
	for i := 0; i < rows; i++ {
		for j := 0; j < Dim; j++ {
			k := i*Dim + j
			e := math.Exp(-sd[k])
			// y = rev*(x - t)*exp(-s) + mask*x, logDet = -sum(rev*S)
			gxd[k] = gyd[k] * (rev[j]*e + c.Mask[j])
			gTd[k] = -gyd[k] * rev[j] * e * rev[j]
			gSd[k] = (-gyd[k]*rev[j]*(xd[k]-td[k])*e - gLogDet[i]) * rev[j]
		}
	}

	gxmS := c.Scale.backward(tr.scale, gS, grad.Scale)
	gxmT := c.Translate.backward(tr.translate, gT, grad.Translate)
	a, b := gxmS.RawMatrix().Data, gxmT.RawMatrix().Data
	for i := 0; i < rows; i++ {
		for j := 0; j < Dim; j++ {
			k := i*Dim + j
			gxd[k] += (a[k] + b[k]) * c.Mask[j]
		}
	}
	return gx
}

// maskColumns returns a copy of m with column j scaled by mask[j].
func maskColumns(m *mat.Dense, mask Mask) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	src, dst := m.RawMatrix(), out.RawMatrix().Data
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[i*cols+j] = src.Data[i*src.Stride+j] * mask[j]
		}
	}
	return out
}
