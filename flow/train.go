package flow

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrDivergence is returned when the loss or its gradient stops being
// finite. The offending update is never applied.
var ErrDivergence = errors.New("flow: training diverged")

// Dataset is the minimal interface the training loop needs. It keeps flow
// decoupled from the datasets package; datasets.Weighted implements it.
type Dataset interface {
	Len() int
	// Rows returns normalized feature rows and weights for the given
	// indices.
	Rows(indices []int) (features [][]float64, weights []float64, err error)
}

// TrainStep computes the objective on b, backpropagates and applies one
// Adam update to f. On error f is left untouched.
func TrainStep(f *Flow, opt *Adam, b Batch) (StepResult, error) {
	if b.Len() == 0 {
		return StepResult{}, errors.Wrap(ErrShape, "empty batch")
	}
	grad := opt.gradBuffer(f)
	res := lossAndGrad(f, b, grad)
	if !isFinite(res.Loss) || !isFinite(res.Penalty) || !isFinite(res.GradNorm) {
		return res, errors.Wrapf(ErrDivergence, "loss=%v penalty=%v grad norm=%v", res.Loss, res.Penalty, res.GradNorm)
	}
	if err := opt.update(f.params(), grad.params(), res.GradNorm); err != nil {
		return res, err
	}
	return res, nil
}

// EvalStep returns the weighted negative log-likelihood of b without
// touching the parameters.
func EvalStep(f *Flow, b Batch) (float64, error) {
	loss, err := f.Loss(b)
	if err != nil {
		return 0, err
	}
	if !isFinite(loss) {
		return loss, errors.Wrapf(ErrDivergence, "evaluation loss %v", loss)
	}
	return loss, nil
}

// LossAccumulator is a running mean of per-step losses.
type LossAccumulator struct {
	sum float64
	n   int
}

// Add records one step loss.
func (a *LossAccumulator) Add(loss float64) {
	a.sum += loss
	a.n++
}

// Mean returns the mean of the recorded losses, or NaN if there are none.
func (a LossAccumulator) Mean() float64 {
	if a.n == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.n)
}

// Count returns how many losses were recorded.
func (a LossAccumulator) Count() int {
	return a.n
}

// EpochReport summarizes one epoch.
type EpochReport struct {
	Epoch     int
	Steps     int
	TrainLoss float64
	// ValLoss is NaN when there is no validation split.
	ValLoss float64
}

// EpochHook is called after every epoch.
type EpochHook func(EpochReport)

// Train runs cfg.Epochs epochs of shuffled mini-batch Adam over ds. The last
// ValidationSplit fraction of rows is held out and evaluated after every
// epoch. There is no early stopping and no schedule: the parameters after
// the final epoch are the result.
//
// Train stops with ErrDivergence if any loss or gradient becomes non-finite,
// and with ctx.Err() if ctx is cancelled between steps. The reports of the
// completed epochs are returned in both cases.
func Train(ctx context.Context, f *Flow, ds Dataset, hooks ...EpochHook) ([]EpochReport, error) {
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

	trainIdx := make([]int, nTrain)
	for i := range trainIdx {
		trainIdx[i] = i
	}
	valIdx := make([]int, nVal)
	for i := range valIdx {
		valIdx[i] = nTrain + i
	}

	rng := rand.New(rand.NewSource(cfg.Seed + 1))
	opt := NewAdam(cfg)
	reports := make([]EpochReport, 0, cfg.Epochs)

	klog.V(1).Infof("flow: training %d layers (%d parameters) on %d rows, validating on %d", f.NumLayers(), f.NumParams(), nTrain, nVal)
	for ep := 1; ep <= cfg.Epochs; ep++ {
		rng.Shuffle(len(trainIdx), func(i, j int) {
			trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
		})

		var acc LossAccumulator
		for start := 0; start < nTrain; start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return reports, err
			}
			end := min(start+cfg.BatchSize, nTrain)
			b, err := loadBatch(ds, trainIdx[start:end])
			if err != nil {
				return reports, errors.Wrapf(err, "epoch %d", ep)
			}
			res, err := TrainStep(f, opt, b)
			if err != nil {
				return reports, errors.Wrapf(err, "epoch %d step %d", ep, acc.Count()+1)
			}
			acc.Add(res.Loss)
			klog.V(2).Infof("flow: epoch %d step %d loss=%.5f penalty=%.5f |g|=%.4g", ep, acc.Count(), res.Loss, res.Penalty, res.GradNorm)
		}

		rep := EpochReport{Epoch: ep, Steps: acc.Count(), TrainLoss: acc.Mean(), ValLoss: math.NaN()}
		if nVal > 0 {
			var val LossAccumulator
			for start := 0; start < nVal; start += cfg.BatchSize {
				end := min(start+cfg.BatchSize, nVal)
				b, err := loadBatch(ds, valIdx[start:end])
				if err != nil {
					return reports, errors.Wrapf(err, "epoch %d validation", ep)
				}
				loss, err := EvalStep(f, b)
				if err != nil {
					return reports, errors.Wrapf(err, "epoch %d validation", ep)
				}
				val.Add(loss)
			}
			rep.ValLoss = val.Mean()
		}

		reports = append(reports, rep)
		klog.V(1).Infof("flow: epoch %d/%d loss=%.5f val_loss=%.5f", ep, cfg.Epochs, rep.TrainLoss, rep.ValLoss)
		for _, h := range hooks {
			h(rep)
		}
	}
	return reports, nil
}

func loadBatch(ds Dataset, idx []int) (Batch, error) {
	x, w, err := ds.Rows(idx)
	if err != nil {
		return Batch{}, err
	}
	return NewBatch(x, w)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
