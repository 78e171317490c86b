package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/subhaloflow/flow"
)

func TestObserve(t *testing.T) {
	m := NewTraining()
	hook := m.Hook()
	hook(flow.EpochReport{Epoch: 1, Steps: 4, TrainLoss: 2.5, ValLoss: 2.75})
	hook(flow.EpochReport{Epoch: 2, Steps: 4, TrainLoss: 2.0, ValLoss: math.NaN()})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TrainLoss))
	assert.Equal(t, 2.75, testutil.ToFloat64(m.ValLoss))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Epochs))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.Steps))
	n, err := testutil.GatherAndCount(m.Registry)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRecordError(t *testing.T) {
	m := NewTraining()
	m.RecordError(errors.New("unrelated"))
	m.RecordError(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Divergence))

	m.RecordError(errors.Wrapf(flow.ErrDivergence, "epoch %d", 3))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Divergence))
}

func TestHandler(t *testing.T) {
	m := NewTraining()
	m.Observe(flow.EpochReport{Epoch: 1, Steps: 2, TrainLoss: 1.25, ValLoss: 1.5})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "subhaloflow_train_loss 1.25"), body)
	assert.True(t, strings.Contains(body, "subhaloflow_steps_total 2"), body)
}
