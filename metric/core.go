package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the engine-level metrics shared by every endpoint.
// All Record methods are no-ops on a nil receiver.
type Metrics struct {
	// Endpoint metrics
	EndpointsActive   prometheus.Gauge
	EndpointState     *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesFiltered  *prometheus.CounterVec
	MessagesStored    *prometheus.GaugeVec
	DecodeErrors      *prometheus.CounterVec
	SocketErrors      *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec

	// Delivery metrics
	MessagesForwarded *prometheus.CounterVec
	NATSConnected     prometheus.Gauge
	NATSReconnects    prometheus.Counter
	StreamClients     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		EndpointsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "oscbridge",
				Subsystem: "endpoints",
				Name:      "active",
				Help:      "Number of endpoints currently in the active state",
			},
		),

		EndpointState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "oscbridge",
				Subsystem: "endpoint",
				Name:      "state",
				Help:      "Endpoint state (0=stopped, 1=active, 2=error)",
			},
			[]string{"endpoint", "port"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of OSC messages accepted into a store",
			},
			[]string{"endpoint"},
		),

		MessagesFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "messages",
				Name:      "filtered_total",
				Help:      "Total number of decoded OSC messages rejected by address filters",
			},
			[]string{"endpoint"},
		),

		MessagesStored: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "oscbridge",
				Subsystem: "messages",
				Name:      "stored",
				Help:      "Number of messages currently held in an endpoint store",
			},
			[]string{"endpoint"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "decode",
				Name:      "errors_total",
				Help:      "Total number of datagrams that failed OSC decoding",
			},
			[]string{"endpoint", "reason"},
		),

		SocketErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "socket",
				Name:      "errors_total",
				Help:      "Total number of socket faults by error code",
			},
			[]string{"endpoint", "code"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Endpoint events dropped because no consumer kept up",
			},
			[]string{"endpoint", "kind"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "oscbridge",
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Boundary operation duration in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),

		OperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "operation",
				Name:      "errors_total",
				Help:      "Boundary operation failures by error code",
			},
			[]string{"operation", "code"},
		),

		MessagesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "forward",
				Name:      "messages_total",
				Help:      "Message events delivered to downstream sinks",
			},
			[]string{"sink", "status"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "oscbridge",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "oscbridge",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "oscbridge",
				Subsystem: "stream",
				Name:      "clients",
				Help:      "Number of connected WebSocket stream clients",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.EndpointsActive,
		c.EndpointState,
		c.MessagesReceived,
		c.MessagesFiltered,
		c.MessagesStored,
		c.DecodeErrors,
		c.SocketErrors,
		c.EventsDropped,
		c.OperationDuration,
		c.OperationErrors,
		c.MessagesForwarded,
		c.NATSConnected,
		c.NATSReconnects,
		c.StreamClients,
	}
}

// RecordEndpointState updates the state gauge for one endpoint
func (c *Metrics) RecordEndpointState(endpoint, port string, state int) {
	if c == nil {
		return
	}
	c.EndpointState.WithLabelValues(endpoint, port).Set(float64(state))
}

// ForgetEndpoint removes the per-endpoint series of a removed endpoint
func (c *Metrics) ForgetEndpoint(endpoint, port string) {
	if c == nil {
		return
	}
	c.EndpointState.DeleteLabelValues(endpoint, port)
	c.MessagesStored.DeleteLabelValues(endpoint)
}

// SetActiveEndpoints sets the number of active endpoints
func (c *Metrics) SetActiveEndpoints(n int) {
	if c == nil {
		return
	}
	c.EndpointsActive.Set(float64(n))
}

// RecordMessageReceived increments the accepted message counter
func (c *Metrics) RecordMessageReceived(endpoint string, stored int) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(endpoint).Inc()
	c.MessagesStored.WithLabelValues(endpoint).Set(float64(stored))
}

// RecordMessageFiltered increments the filtered message counter
func (c *Metrics) RecordMessageFiltered(endpoint string) {
	if c == nil {
		return
	}
	c.MessagesFiltered.WithLabelValues(endpoint).Inc()
}

// RecordDecodeError increments the decode error counter
func (c *Metrics) RecordDecodeError(endpoint, reason string) {
	if c == nil {
		return
	}
	c.DecodeErrors.WithLabelValues(endpoint, reason).Inc()
}

// RecordSocketError increments the socket error counter
func (c *Metrics) RecordSocketError(endpoint, code string) {
	if c == nil {
		return
	}
	c.SocketErrors.WithLabelValues(endpoint, code).Inc()
}

// RecordEventDropped increments the dropped event counter
func (c *Metrics) RecordEventDropped(endpoint, kind string) {
	if c == nil {
		return
	}
	c.EventsDropped.WithLabelValues(endpoint, kind).Inc()
}

// RecordOperation records duration and, when code is non-empty, a failure
func (c *Metrics) RecordOperation(operation string, duration time.Duration, code string) {
	if c == nil {
		return
	}
	c.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if code != "" {
		c.OperationErrors.WithLabelValues(operation, code).Inc()
	}
}

// RecordForwarded increments the forwarded message counter
func (c *Metrics) RecordForwarded(sink string, ok bool) {
	if c == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	c.MessagesForwarded.WithLabelValues(sink, status).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// SetStreamClients sets the number of connected stream clients
func (c *Metrics) SetStreamClients(n int) {
	if c == nil {
		return
	}
	c.StreamClients.Set(float64(n))
}
