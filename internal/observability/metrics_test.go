package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

func TestRecordOperation(t *testing.T) {
	c := DefaultMetrics.OperationsTotal.WithLabelValues("deposit", "InsufficientBalance")
	before := value(t, c)

	RecordOperation("deposit", "InsufficientBalance", 0.01)
	RecordRejected("deposit", "InsufficientBalance")

	assert.Equal(t, before+2, value(t, c))
}

func TestRecordAmountMoved_SkipsZero(t *testing.T) {
	c := DefaultMetrics.AmountMoved.WithLabelValues("withdraw", "base")
	before := value(t, c)

	RecordAmountMoved("withdraw", "base", 0)
	assert.Equal(t, before, value(t, c))

	RecordAmountMoved("withdraw", "base", 250)
	assert.Equal(t, before+250, value(t, c))
}

func TestRecordDBQuery_CountsErrors(t *testing.T) {
	c := DefaultMetrics.DBQueryErrors.WithLabelValues("journal", "insert_event")
	before := value(t, c)

	RecordDBQuery("journal", "insert_event", 0.002, nil)
	RecordDBQuery("journal", "insert_event", 0.002, errors.New("connection reset"))

	assert.Equal(t, before+1, value(t, c))
}

func TestUpdateBreakerState(t *testing.T) {
	UpdateBreakerState(2)
	assert.Equal(t, 2.0, value(t, DefaultMetrics.RPCBreakerState))
	UpdateBreakerState(0)
	assert.Equal(t, 0.0, value(t, DefaultMetrics.RPCBreakerState))
}
