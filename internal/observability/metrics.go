package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wmitlv"

// Metrics holds the host's collectors. A nil *Metrics records nothing.
type Metrics struct {
	messages         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
	queueDrops       prometheus.Counter
	inFlight         prometheus.Gauge
	commands         *prometheus.CounterVec
	negotiations     *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "messages_total",
				Help:      "Inbound messages by registry and outcome.",
			},
			[]string{"registry", "outcome"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "rejected_total",
				Help:      "Messages dropped by the codec, by reason.",
			},
			[]string{"registry", "reason"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time from dequeue to release for one message.",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"registry"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "queue_depth",
			Help:      "Messages waiting for the receive worker.",
		}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "queue_drops_total",
			Help:      "Messages dropped because the receive queue was full.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commands_in_flight",
			Help:      "Commands submitted and not yet completed.",
		}),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "commands_total",
				Help:      "Command submissions by result.",
			},
			[]string{"result"},
		),
		negotiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "abi",
				Name:      "negotiations_total",
				Help:      "ABI negotiations by reason.",
			},
			[]string{"reason", "compatible"},
		),
	}
	reg.MustRegister(m.messages, m.rejected, m.dispatchDuration, m.queueDepth, m.queueDrops,
		m.inFlight, m.commands, m.negotiations)
	return m
}

func (m *Metrics) RecordMessage(registry, outcome, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(registry, outcome).Inc()
	if reason != "" {
		m.rejected.WithLabelValues(registry, reason).Inc()
	}
	m.dispatchDuration.WithLabelValues(registry).Observe(duration.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RecordQueueDrop() {
	if m == nil {
		return
	}
	m.queueDrops.Inc()
}

func (m *Metrics) RecordCommand(result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result).Inc()
}

// SetInFlight fits session.WithInFlightHook.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

func (m *Metrics) RecordNegotiation(reason string, compatible bool) {
	if m == nil {
		return
	}
	label := "false"
	if compatible {
		label = "true"
	}
	m.negotiations.WithLabelValues(reason, label).Inc()
}
