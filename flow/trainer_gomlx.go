//go:build gomlx

// Gomlx-backed trainer for the flow package.
//
// TrainGomlx builds the same encode-direction objective as lossAndGrad in a
// gomlx graph, lets gomlx differentiate it and applies its Adam optimizer on
// the simplego backend. The flow's parameters seed the gomlx variables and
// the trained values are copied back, so sampling and snapshots work the
// same whichever trainer produced the weights.
package flow

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"
	"strings"

	"github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// tensorSource is implemented by datasets that can hand out gomlx tensors
// directly, such as datasets.Weighted.
type tensorSource interface {
	Tensors(indices []int) (features, weights *tensors.Tensor, err error)
}

type gomlxParam struct {
	scope  []string
	name   string
	target []float64
	in     int
	out    int
	kernel bool
}

// gomlxParams lists every parameter of f with its variable scope, in the
// same order as f.params().
func gomlxParams(f *Flow) []gomlxParam {
	var out []gomlxParam
	for l, c := range f.layers {
		for _, sub := range []struct {
			name string
			net  mlp
		}{{"scale", c.Scale}, {"translate", c.Translate}} {
			for k, d := range sub.net.layers {
				in, o := d.dims()
				scope := []string{fmt.Sprintf("coupling_%02d", l), sub.name, fmt.Sprintf("dense_%d", k)}
				out = append(out,
					gomlxParam{scope: scope, name: "kernel", target: d.W.RawMatrix().Data, in: in, out: o, kernel: true},
					gomlxParam{scope: scope, name: "bias", target: d.B, in: 1, out: o},
				)
			}
		}
	}
	return out
}

func (p gomlxParam) variable(ctx *mlctx.Context) *mlctx.Variable {
	scoped := ctx
	for _, s := range p.scope {
		scoped = scoped.In(s)
	}
	data := append([]float64(nil), p.target...)
	return scoped.VariableWithValue(p.name, tensors.FromFlatDataAndDimensions(data, p.in, p.out))
}

// gomlxLoss builds -mean((log N(z) + logDet) * w) for the encode direction,
// plus the L2 penalty when withPenalty is set.
func gomlxLoss(f *Flow, vars []*mlctx.Variable, x, w *Node, withPenalty bool) *Node {
	g := x.Graph()
	k := 0
	next := func() *Node {
		v := vars[k].ValueGraph(g)
		k++
		return v
	}
	subnet := func(in *Node, depth int) *Node {
		h := in
		for d := 0; d <= depth; d++ {
			kernel, bias := next(), next()
			h = Add(Dot(h, kernel), bias)
			if d < depth {
				h = Max(h, ZerosLike(h))
			} else {
				h = Tanh(h)
			}
		}
		return h
	}

	logDet := ReduceSum(ZerosLike(x), -1)
	for _, c := range f.layers {
		mask := Const(g, [][]float64{c.Mask[:]})
		rev := OneMinus(mask)
		xm := Mul(x, mask)
		s := Mul(subnet(xm, f.cfg.HiddenLayers), rev)
		t := Mul(subnet(xm, f.cfg.HiddenLayers), rev)
		e := Exp(Neg(s))
		x = Add(Mul(rev, Mul(Sub(x, t), e)), xm)
		logDet = Sub(logDet, ReduceSum(s, -1))
	}

	base := AddScalar(MulScalar(ReduceSum(Square(x), -1), -0.5), logNormConst)
	loss := Neg(ReduceAllMean(Mul(Add(base, logDet), w)))
	if withPenalty && f.cfg.L2 > 0 {
		params := gomlxParams(f)
		for i, p := range params {
			if p.kernel {
				loss = Add(loss, MulScalar(ReduceAllSum(Square(vars[i].ValueGraph(g))), f.cfg.L2))
			}
		}
	}
	return loss
}

// simplegoConfig picks the simplego backend configuration: cfg.GomlxBackend,
// else the part of $GOMLX_BACKEND after "go:", else "ops_sequential" on a
// single-CPU host. The parallel executor deadlocks there because nested
// DotGeneral tasks wait for the only worker slot.
func simplegoConfig(cfg Config) string {
	if cfg.GomlxBackend != "" {
		return cfg.GomlxBackend
	}
	if env := os.Getenv("GOMLX_BACKEND"); strings.HasPrefix(env, "go:") {
		return strings.TrimPrefix(env, "go:")
	}
	if runtime.NumCPU() == 1 {
		return "ops_sequential"
	}
	return ""
}

// TrainGomlx trains f with gomlx autodiff and Adam. Epochs, batching,
// validation and reporting follow Train.
func TrainGomlx(ctx context.Context, f *Flow, ds Dataset, hooks ...EpochHook) ([]EpochReport, error) {
	cfg := f.cfg
	n := ds.Len()
	if n == 0 {
		return nil, errors.Wrap(ErrShape, "dataset is empty")
	}
	nVal := 0
	if cfg.ValidationSplit > 0 {
		nVal = int(float64(n) * cfg.ValidationSplit)
	}
	nTrain := n - nVal
	if nTrain == 0 {
		return nil, errors.Wrapf(ErrShape, "validation split %v leaves no training rows out of %d", cfg.ValidationSplit, n)
	}

	backendCfg := simplegoConfig(cfg)
	backend, err := simplego.New(backendCfg)
	if err != nil {
		return nil, errors.Wrapf(err, "creating gomlx simplego backend %q", backendCfg)
	}
	klog.V(1).Infof("flow: gomlx simplego backend config %q", backendCfg)
	mctx := mlctx.New()
	params := gomlxParams(f)
	vars := make([]*mlctx.Variable, len(params))
	for i, p := range params {
		vars[i] = p.variable(mctx)
	}

	opt := optimizers.Adam().
		LearningRate(cfg.LearningRate).
		Betas(cfg.Beta1, cfg.Beta2).
		Epsilon(cfg.Epsilon).
		Done()
	trainExec, err := mlctx.NewExec(backend, mctx, func(c *mlctx.Context, x, w *Node) *Node {
		loss := gomlxLoss(f, vars, x, w, true)
		opt.UpdateGraph(c, x.Graph(), loss)
		return loss
	})
	if err != nil {
		return nil, errors.Wrap(err, "compiling gomlx train step")
	}
	evalExec, err := mlctx.NewExec(backend, mctx, func(c *mlctx.Context, x, w *Node) *Node {
		return gomlxLoss(f, vars, x, w, false)
	})
	if err != nil {
		return nil, errors.Wrap(err, "compiling gomlx eval step")
	}

	batchTensors := func(idx []int) (*tensors.Tensor, *tensors.Tensor, error) {
		b, err := loadBatch(ds, idx)
		if err != nil {
			return nil, nil, err
		}
		if src, ok := ds.(tensorSource); ok {
			return src.Tensors(idx)
		}
		return tensors.FromFlatDataAndDimensions(b.X.RawMatrix().Data, b.Len(), Dim), tensors.FromFlatDataAndDimensions(b.W, b.Len()), nil
	}
	run := func(exec *mlctx.Exec, idx []int) (float64, error) {
		x, w, err := batchTensors(idx)
		if err != nil {
			return 0, err
		}
		out, err := exec.Exec(x, w)
		if err != nil {
			return 0, errors.Wrap(err, "executing gomlx graph")
		}
		v := out[0].Value().(float64)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v, errors.Wrapf(ErrDivergence, "loss %v", v)
		}
		return v, nil
	}

	idx := make([]int, nTrain)
	for i := range idx {
		idx[i] = i
	}
	valIdx := make([]int, nVal)
	for i := range valIdx {
		valIdx[i] = nTrain + i
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	reports := make([]EpochReport, 0, cfg.Epochs)

	klog.V(1).Infof("flow: gomlx training on %d rows, validating on %d", nTrain, nVal)
	for ep := 1; ep <= cfg.Epochs; ep++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		var acc LossAccumulator
		for start := 0; start < nTrain; start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return reports, err
			}
			loss, err := run(trainExec, idx[start:min(start+cfg.BatchSize, nTrain)])
			if err != nil {
				return reports, errors.Wrapf(err, "epoch %d", ep)
			}
			acc.Add(loss)
		}
		rep := EpochReport{Epoch: ep, Steps: acc.Count(), TrainLoss: acc.Mean(), ValLoss: math.NaN()}
		if nVal > 0 {
			var val LossAccumulator
			for start := 0; start < nVal; start += cfg.BatchSize {
				loss, err := run(evalExec, valIdx[start:min(start+cfg.BatchSize, nVal)])
				if err != nil {
					return reports, errors.Wrapf(err, "epoch %d validation", ep)
				}
				val.Add(loss)
			}
			rep.ValLoss = val.Mean()
		}
		reports = append(reports, rep)
		klog.V(1).Infof("flow: gomlx epoch %d/%d loss=%.5f val_loss=%.5f", ep, cfg.Epochs, rep.TrainLoss, rep.ValLoss)
		for _, h := range hooks {
			h(rep)
		}
	}

	// Copy trained values back into the flow.
	for i, p := range params {
		val := vars[i].Value().Value().([][]float64)
		for r, row := range val {
			copy(p.target[r*p.out:(r+1)*p.out], row)
		}
	}
	return reports, nil
}
