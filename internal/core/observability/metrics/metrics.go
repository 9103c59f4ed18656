// Package metrics holds the prometheus collectors of the world client and the reference authority.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/worldlink/internal/core/protocol"
)

const namespace = "worldlink"

// Request outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
)

// Metrics is a set of collectors bound to one registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	roundTrip      *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	droppedReplies prometheus.Counter
	decodeFailures prometheus.Counter
	sendFailures   *prometheus.CounterVec

	commands       *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	entities       prometheus.Gauge
	connections    *prometheus.GaugeVec
}

// New registers every collector on a fresh private registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers every collector on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Requests sent to the authority by command kind and outcome.",
		}, []string{"kind", "outcome"}),
		roundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "round_trip_seconds",
			Help:      "Time from send to matching reply.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "requests_in_flight",
			Help:      "Requests awaiting a reply.",
		}),
		droppedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "dropped_replies_total",
			Help:      "Replies that matched no pending request.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "decode_failures_total",
			Help:      "Inbound messages that could not be decoded.",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "send_failures_total",
			Help:      "Local transmission failures by command kind.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "commands_total",
			Help:      "Commands handled by the authority by kind and result code.",
		}, []string{"kind", "result"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "command_seconds",
			Help:      "Time spent handling a command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "entities",
			Help:      "Live entities in the world store.",
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authority",
			Name:      "connections",
			Help:      "Open client connections by transport mode.",
		}, []string{"mode"}),
	}

	reg.MustRegister(
		m.requests, m.roundTrip, m.inFlight, m.droppedReplies, m.decodeFailures, m.sendFailures,
		m.commands, m.commandLatency, m.entities, m.connections,
	)
	return m
}

// WithProcessCollectors adds the Go runtime and process collectors, for exposed registries.
func (m *Metrics) WithProcessCollectors() *Metrics {
	if m == nil {
		return nil
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Client side.

func (m *Metrics) RequestSent() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) RequestResolved(kind protocol.CommandKind, rtt time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(string(kind), OutcomeResolved).Inc()
	m.roundTrip.WithLabelValues(string(kind)).Observe(rtt.Seconds())
}

func (m *Metrics) RequestTimedOut(kind protocol.CommandKind) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(string(kind), OutcomeTimeout).Inc()
}

func (m *Metrics) RequestFailed(kind protocol.CommandKind) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(string(kind), OutcomeFailed).Inc()
}

func (m *Metrics) ReplyDropped() {
	if m == nil {
		return
	}
	m.droppedReplies.Inc()
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) SendFailed(kind protocol.CommandKind) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(string(kind)).Inc()
}

// Authority side.

// Commands exposes the handled command counter, labelled by kind and result.
// It is nil on a nil Metrics.
func (m *Metrics) Commands() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.commands
}

// Connections exposes the open connection gauge, labelled by mode. It is nil on a nil Metrics.
func (m *Metrics) Connections() *prometheus.GaugeVec {
	if m == nil {
		return nil
	}
	return m.connections
}

func (m *Metrics) CommandHandled(kind protocol.CommandKind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(kind), result).Inc()
	m.commandLatency.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (m *Metrics) SetEntities(n int) {
	if m == nil {
		return
	}
	m.entities.Set(float64(n))
}

func (m *Metrics) ConnectionOpened(mode string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(mode).Inc()
}

func (m *Metrics) ConnectionClosed(mode string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(mode).Dec()
}
