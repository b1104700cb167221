// Package natsclient wraps the NATS Go client with a circuit breaker,
// retrying connects and status reporting.
//
// # Core Features
//
// Circuit Breaker Pattern: after a threshold of consecutive connect failures
// (default: 5) the circuit opens and Connect fails fast with ErrCircuitOpen.
// The circuit half-opens after the current backoff, which doubles each time
// it opens up to a maximum (default: one minute).
//
// Connection Lifecycle: Disconnected → Connecting → Connected → Reconnecting →
// Connected. Transitions update the oscbridge_nats_connected gauge and
// reconnects increment oscbridge_nats_reconnects_total when the client is
// created WithMetrics.
//
// Retrying Connect: Connect runs connection attempts through pkg/retry. An
// open circuit ends the retry loop immediately.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("oscbridge"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(metricsRegistry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "osc.endpoint-1", payload)
//
// # Testing
//
// Unit tests run without a server. Tests that need a real server use
// NewTestClient, which starts NATS in a container through testcontainers
// and is only built with the integration tag:
//
//	go test -tags integration ./natsclient/...
package natsclient
