package observability

import (
	"testing"
	"time"

	"github.com/danmuck/wmitlv/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	testlog.Start(t)
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RecordMessage("events", "dispatched", "", time.Millisecond)
	m.RecordMessage("events", "rejected", "length_mismatch", time.Millisecond)
	m.RecordMessage("events", "rejected", "length_mismatch", time.Millisecond)
	m.SetQueueDepth(7)
	m.RecordQueueDrop()
	m.RecordCommand("submitted")
	m.SetInFlight(3)
	m.RecordNegotiation("downgraded", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("events", "dispatched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejected.WithLabelValues("events", "length_mismatch")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDrops))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.negotiations.WithLabelValues("downgraded", "true")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordMessage("events", "dispatched", "", 0)
	m.SetQueueDepth(1)
	m.RecordQueueDrop()
	m.RecordCommand("rejected")
	m.SetInFlight(0)
	m.RecordNegotiation("exact", true)
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
