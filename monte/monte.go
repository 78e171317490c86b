package monte

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/Noofbiz/subhaloflow/flow"
	"github.com/Noofbiz/subhaloflow/normalize"
)

// DefaultChunkSize is the number of rows each worker decodes at a time.
const DefaultChunkSize = 512

// ErrNoWeight is returned when weighted resampling has nothing to draw from.
var ErrNoWeight = errors.New("monte: total weight is zero")

// Sampler draws synthetic subhalos from a trained flow. Latent vectors are
// decoded in parallel chunks and mapped back to physical units with the
// bounds the flow was trained under.
type Sampler struct {
	Flow   *flow.Flow
	Bounds normalize.Bounds

	// ChunkSize is the number of rows per decode job (DefaultChunkSize if 0).
	ChunkSize int
	// Workers bounds the number of concurrent jobs (runtime.NumCPU if 0).
	Workers int

	rng *rand.Rand
}

// NewSampler returns a sampler for f. A zero seed picks a time-based one.
func NewSampler(f *flow.Flow, b normalize.Bounds, seed int64) (*Sampler, error) {
	if f == nil {
		return nil, errors.New("monte: nil flow")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.Dim() != flow.Dim {
		return nil, errors.Wrapf(flow.ErrShape, "bounds cover %d features, expected %d", b.Dim(), flow.Dim)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{Flow: f, Bounds: b, rng: rand.New(rand.NewSource(seed))}, nil
}

// Sample draws n latent vectors from the standard Gaussian, decodes them and
// denormalizes the result. Every row is returned: physical-validity
// filtering is left to the caller.
func (s *Sampler) Sample(n int) ([][]float64, error) {
	_, x, err := s.SampleWithLatent(n)
	return x, err
}

// SampleWithLatent is Sample that also returns the latent draws.
func (s *Sampler) SampleWithLatent(n int) (latent, samples [][]float64, err error) {
	if n <= 0 {
		return nil, nil, errors.Errorf("monte: sample count must be positive, got %d", n)
	}
	chunks := s.chunks(n)

	// Precompute independent seeds using the sampler RNG (serial access) so
	// the result does not depend on scheduling.
	seeds := make([]int64, len(chunks))
	for i := range seeds {
		seeds[i] = s.rng.Int63()
	}

	latent = make([][]float64, n)
	norm := make([][]float64, n)
	err = s.parallel(chunks, func(c int, lo, hi int) error {
		rng := rand.New(rand.NewSource(seeds[c]))
		z := flow.SampleLatent(rng, hi-lo)
		copy(latent[lo:hi], z)
		x, err := transformRows(s.Flow, z, flow.Decode)
		if err != nil {
			return err
		}
		copy(norm[lo:hi], x)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	samples, err = normalize.Denormalize(norm, s.Bounds)
	if err != nil {
		return nil, nil, err
	}
	return latent, samples, nil
}

// Encode maps normalized rows to latent space in parallel chunks.
func (s *Sampler) Encode(rows [][]float64) ([][]float64, error) {
	if len(rows) == 0 {
		return nil, errors.Wrap(flow.ErrShape, "no rows to encode")
	}
	out := make([][]float64, len(rows))
	err := s.parallel(s.chunks(len(rows)), func(_ int, lo, hi int) error {
		z, err := transformRows(s.Flow, rows[lo:hi], flow.Encode)
		if err != nil {
			return errors.Wrapf(err, "rows %d-%d", lo, hi)
		}
		copy(out[lo:hi], z)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type span struct{ lo, hi int }

func (s *Sampler) chunks(n int) []span {
	size := s.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out []span
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo, min(lo+size, n)})
	}
	return out
}

// parallel runs job for every chunk on a bounded worker pool. The flow is
// only read while jobs run.
func (s *Sampler) parallel(chunks []span, job func(c, lo, hi int) error) error {
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for c, sp := range chunks {
		g.Go(func() error {
			return job(c, sp.lo, sp.hi)
		})
	}
	return g.Wait()
}

func transformRows(f *flow.Flow, rows [][]float64, d flow.Direction) ([][]float64, error) {
	data := make([]float64, 0, len(rows)*flow.Dim)
	for i, r := range rows {
		if len(r) != flow.Dim {
			return nil, errors.Wrapf(flow.ErrShape, "row %d has %d features, expected %d", i, len(r), flow.Dim)
		}
		data = append(data, r...)
	}
	out, _ := f.Transform(mat.NewDense(len(rows), flow.Dim, data), d)
	res := make([][]float64, len(rows))
	for i := range res {
		res[i] = mat.Row(nil, i, out)
	}
	return res, nil
}

// WeightedSubsample draws n indices with replacement, each with probability
// proportional to its weight. Zero-weight rows are never drawn.
func WeightedSubsample(weights []float64, n int, rng *rand.Rand) ([]int, error) {
	if n < 0 {
		return nil, errors.Errorf("monte: negative sample count %d", n)
	}
	cum := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, errors.Wrapf(flow.ErrWeight, "weight %d is %v", i, w)
		}
		total += w
		cum[i] = total
	}
	if total == 0 {
		return nil, ErrNoWeight
	}

	out := make([]int, n)
	for k := range out {
		target := rng.Float64() * total
		// First index whose cumulative weight exceeds target; a zero
		// weight never widens the interval, so it can't be picked.
		i := sort.Search(len(cum), func(i int) bool { return cum[i] > target })
		if i == len(cum) {
			i = len(cum) - 1
			for weights[i] == 0 {
				i--
			}
		}
		out[k] = i
	}
	return out, nil
}
