// Package metric provides Prometheus metrics collection and an HTTP server for
// oscbridge monitoring.
//
// The package has three layers:
//
//  1. Core metrics: engine-level series registered automatically (Metrics type)
//  2. Component registry: keyed registration for per-endpoint metrics (MetricsRegistrar)
//  3. HTTP server: /metrics in Prometheus format plus a /health probe (Server type)
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("Metrics server error", "error", err)
//	    }
//	}()
//
//	registry.CoreMetrics().RecordMessageReceived("endpoint-1", stored)
//
// Per-endpoint metrics are registered under a service name such as "udp_9000"
// and removed together with UnregisterService when the endpoint is discarded.
//
// # Nil Handling
//
// Components accept a nil *MetricsRegistry to disable metrics. CoreMetrics on a nil
// registry returns nil, and every Record method on a nil *Metrics is a no-op.
package metric
