package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/oscbridge/metric"
)

// endpointMetrics holds the per-endpoint socket counters.
type endpointMetrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	lastActivity    prometheus.Gauge
}

// newEndpointMetrics registers socket metrics under the endpoint id. A nil
// registry disables them.
func newEndpointMetrics(registry *metric.MetricsRegistry, id string) (*endpointMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"endpoint": id}
	m := &endpointMetrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "oscbridge",
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP datagrams received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "oscbridge",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from UDP",
			ConstLabels: labels,
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "oscbridge",
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received datagram",
			ConstLabels: labels,
		}),
	}

	if err := registry.RegisterCounter(id, "packets_received", m.packetsReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(id, "bytes_received", m.bytesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(id, "last_activity", m.lastActivity); err != nil {
		return nil, err
	}
	return m, nil
}
