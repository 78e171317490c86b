//go:build gomlx

package flow

import (
	"context"
	"math/rand"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainGomlxReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(181))
	x := make([][]float64, 200)
	for i := range x {
		row := make([]float64, Dim)
		for j := range row {
			row[j] = 0.25*rng.NormFloat64() - 0.1*float64(j)
		}
		x[i] = row
	}
	ds := &mockDataset{rows: x, weights: ones(len(x))}

	cfg := smallConfig(191)
	cfg.LearningRate = 5e-3
	cfg.Epochs = 20
	cfg.BatchSize = 32
	f, err := New(cfg)
	require.NoError(t, err)
	b, err := NewBatch(x, ones(len(x)))
	require.NoError(t, err)
	before, err := EvalStep(f, b)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	type result struct {
		reports []EpochReport
		err     error
	}
	done := make(chan result, 1)
	go func() {
		r, err := TrainGomlx(ctx, f, ds)
		done <- result{r, err}
	}()
	var res result
	select {
	case res = <-done:
	case <-time.After(3 * time.Minute):
		t.Fatal("TrainGomlx did not finish within 3 minutes")
	}
	require.NoError(t, res.err)
	require.Len(t, res.reports, cfg.Epochs)

	// The weights trained by gomlx are used by the native forward pass.
	after, err := EvalStep(f, b)
	require.NoError(t, err)
	t.Logf("loss before=%.4f after=%.4f", before, after)
	assert.Less(t, after, before)
}

func TestSimplegoConfig(t *testing.T) {
	t.Setenv("GOMLX_BACKEND", "")
	assert.Equal(t, "ops_parallel", simplegoConfig(Config{GomlxBackend: "ops_parallel"}))

	want := ""
	if runtime.NumCPU() == 1 {
		want = "ops_sequential"
	}
	assert.Equal(t, want, simplegoConfig(Config{}))

	t.Setenv("GOMLX_BACKEND", "go:ops_sequential")
	assert.Equal(t, "ops_sequential", simplegoConfig(Config{}))
	assert.Equal(t, "ops_parallel", simplegoConfig(Config{GomlxBackend: "ops_parallel"}))
}
