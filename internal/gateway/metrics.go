package gateway

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectFailures   prometheus.Counter
	reconnects        prometheus.Counter
	framesReceived    *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	dispatched        *prometheus.CounterVec
	handshakesSent    *prometheus.CounterVec
	handshakeRejected *prometheus.CounterVec
	state             prometheus.Gauge
	lastSequence      prometheus.Gauge
}

// NewMetrics registers the gateway collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "blimp"
	}
	factory := promauto.With(reg)
	const subsystem = "gateway"

	return &Metrics{
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_total",
			Help:      "Gateway connections established.",
		}),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections_active",
			Help:      "1 while a gateway socket is open.",
		}),
		connectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connect_failures_total",
			Help:      "Failed gateway dial attempts.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts after a lost connection.",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Decoded inbound envelopes by op code.",
		}, []string{"op"}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Inbound frames dropped as undecodable.",
		}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_events_total",
			Help:      "Dispatch envelopes by event name.",
		}, []string{"event"}),
		handshakesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshakes_sent_total",
			Help:      "Handshakes sent by kind (identify or resume).",
		}, []string{"kind"}),
		handshakeRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_rejected_total",
			Help:      "Invalid-session replies by resumability.",
		}, []string{"resumable"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state",
			Help:      "Connection state (0 disconnected, 1 connecting, 2 identifying, 3 open, 4 closing).",
		}),
		lastSequence: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_sequence",
			Help:      "Last observed dispatch sequence number.",
		}),
	}
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Set(1)
}

func (m *Metrics) disconnected() {
	if m == nil {
		return
	}
	m.connectionsActive.Set(0)
}

func (m *Metrics) connectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

func (m *Metrics) reconnecting() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) frame(op Opcode) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) dispatch(event string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(event).Inc()
}

func (m *Metrics) handshake(op Opcode) {
	if m == nil {
		return
	}
	m.handshakesSent.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) rejected(resumable bool) {
	if m == nil {
		return
	}
	m.handshakeRejected.WithLabelValues(strconv.FormatBool(resumable)).Inc()
}

func (m *Metrics) setState(s ConnState) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

func (m *Metrics) sequence(seq int64) {
	if m == nil {
		return
	}
	m.lastSequence.Set(float64(seq))
}
