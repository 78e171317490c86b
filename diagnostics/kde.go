package diagnostics

import (
	"math"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const kdeChunk = 256

// KDE is a Gaussian kernel density estimate with a full bandwidth matrix:
// the data covariance scaled by Scott's factor n^(-1/(d+4)).
type KDE struct {
	dim    int
	n      int
	factor float64
	// whitened data points: L^-1 x, where L L^T is the kernel covariance.
	white   [][]float64
	chol    mat.Cholesky
	lower   mat.TriDense
	lognorm float64
}

// NewKDE fits a KDE to points, given as rows of equal dimension.
func NewKDE(points [][]float64) (*KDE, error) {
	n := len(points)
	if n < 2 {
		return nil, errors.Errorf("diagnostics: KDE needs at least 2 points, got %d", n)
	}
	d := len(points[0])
	if d == 0 {
		return nil, errors.New("diagnostics: KDE points have no dimensions")
	}
	data := make([]float64, 0, n*d)
	for i, p := range points {
		if len(p) != d {
			return nil, errors.Errorf("diagnostics: point %d has %d dimensions, expected %d", i, len(p), d)
		}
		data = append(data, p...)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(n, d, data), nil)
	k := &KDE{dim: d, n: n, factor: math.Pow(float64(n), -1/float64(d+4))}
	cov.ScaleSym(k.factor*k.factor, &cov)
	if ok := k.chol.Factorize(&cov); !ok {
		return nil, errors.New("diagnostics: KDE covariance is singular")
	}
	k.chol.LTo(&k.lower)
	k.lognorm = -0.5*float64(d)*math.Log(2*math.Pi) - 0.5*k.chol.LogDet() - math.Log(float64(n))

	k.white = make([][]float64, n)
	for i, p := range points {
		w, err := k.whiten(p)
		if err != nil {
			return nil, err
		}
		k.white[i] = w
	}
	return k, nil
}

// Factor returns Scott's bandwidth factor used by the estimate.
func (k *KDE) Factor() float64 {
	return k.factor
}

func (k *KDE) whiten(p []float64) ([]float64, error) {
	var y mat.VecDense
	if err := y.SolveVec(&k.lower, mat.NewVecDense(k.dim, append([]float64(nil), p...))); err != nil {
		return nil, errors.Wrap(err, "whitening point")
	}
	return y.RawVector().Data, nil
}

// Density evaluates the estimate at one point.
func (k *KDE) Density(p []float64) (float64, error) {
	if len(p) != k.dim {
		return 0, errors.Errorf("diagnostics: point has %d dimensions, expected %d", len(p), k.dim)
	}
	y, err := k.whiten(p)
	if err != nil {
		return 0, err
	}
	terms := make([]float64, k.n)
	for i, w := range k.white {
		d := floats.Distance(y, w, 2)
		terms[i] = -0.5 * d * d
	}
	return math.Exp(floats.LogSumExp(terms) + k.lognorm), nil
}

// Evaluate returns the density at every point, evaluated concurrently.
func (k *KDE) Evaluate(points [][]float64) ([]float64, error) {
	out := make([]float64, len(points))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for lo := 0; lo < len(points); lo += kdeChunk {
		hi := min(lo+kdeChunk, len(points))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				v, err := k.Density(points[i])
				if err != nil {
					return errors.Wrapf(err, "point %d", i)
				}
				out[i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PairDensity fits a 2-D KDE to (x[i], y[i]) and evaluates it at the same
// points, which is what a density-coloured scatter plot needs.
func PairDensity(x, y []float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, errors.Errorf("diagnostics: %d x values but %d y values", len(x), len(y))
	}
	pts := make([][]float64, len(x))
	for i := range x {
		pts[i] = []float64{x[i], y[i]}
	}
	k, err := NewKDE(pts)
	if err != nil {
		return nil, err
	}
	return k.Evaluate(pts)
}
