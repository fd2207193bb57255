// Package telemetry provides relay metrics and the optional HTTP status API
// for dbgpd. The relay hot path reports through nil-safe hooks so a proxy
// built without telemetry pays only a nil check per frame.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Direction labels for per-direction relay metrics.
const (
	DirectionEngineToIDE = "engine_to_ide"
	DirectionIDEToEngine = "ide_to_engine"
)

// Metrics holds the prometheus collectors for the proxy. A nil *Metrics is
// valid and turns every record method into a no-op.
type Metrics struct {
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	framesRelayed  *prometheus.CounterVec
	frameBytes     *prometheus.CounterVec
	frameErrors    prometheus.Counter
	pairFailures   *prometheus.CounterVec
	pendingCmds    prometheus.Gauge
}

// NewMetrics creates the dbgpd collectors and registers them on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbgpd",
			Name:      "sessions_active",
			Help:      "Number of currently active relay sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbgpd",
			Name:      "sessions_total",
			Help:      "Total number of relay sessions created.",
		}),
		framesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbgpd",
			Name:      "frames_relayed_total",
			Help:      "Total number of protocol frames relayed.",
		}, []string{"direction"}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbgpd",
			Name:      "frame_bytes_total",
			Help:      "Total payload bytes relayed.",
		}, []string{"direction"}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbgpd",
			Name:      "frame_errors_total",
			Help:      "Total number of framing errors observed.",
		}),
		pairFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbgpd",
			Name:      "pair_failures_total",
			Help:      "Engine connections refused before a session was created.",
		}, []string{"reason"}),
		pendingCmds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbgpd",
			Name:      "commands_pending",
			Help:      "Commands issued but not yet answered across all sessions.",
		}),
	}

	registry.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.framesRelayed,
		m.frameBytes,
		m.frameErrors,
		m.pairFailures,
		m.pendingCmds,
	)
	return m
}

// SessionStarted records a new active session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed records the end of an active session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// FrameRelayed records one relayed frame and its payload size.
func (m *Metrics) FrameRelayed(direction string, bytes int) {
	if m == nil {
		return
	}
	m.framesRelayed.WithLabelValues(direction).Inc()
	m.frameBytes.WithLabelValues(direction).Add(float64(bytes))
}

// FrameError records a framing violation.
func (m *Metrics) FrameError() {
	if m == nil {
		return
	}
	m.frameErrors.Inc()
}

// PairFailure records an engine connection refused before pairing.
func (m *Metrics) PairFailure(reason string) {
	if m == nil {
		return
	}
	m.pairFailures.WithLabelValues(reason).Inc()
}

// CommandPending tracks the global outstanding-command gauge.
func (m *Metrics) CommandPending(delta int) {
	if m == nil {
		return
	}
	m.pendingCmds.Add(float64(delta))
}
