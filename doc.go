// Package oscbridge receives OSC 1.0 messages over UDP and makes them
// available to other programs.
//
// # Architecture
//
// Datagrams flow one way through the engine:
//
//	UDP socket -> endpoint (decode, filter) -> store (ring buffer)
//	                     \-> registry subscribers (websocket, nats, webhook, recorder)
//
// The packages are layered bottom up:
//
//   - osc: the OSC 1.0 wire codec (int32, float32, string and blob arguments)
//   - pattern: wildcard address matching (* and ?)
//   - store: a bounded, time-ordered message buffer per endpoint
//   - endpoint: one UDP socket with its lifecycle (stopped, active, error)
//   - registry: id allocation, port exclusivity and event fan-out
//   - service: the boundary operations createEndpoint, stopEndpoint,
//     getMessages and getEndpointStatus, with stable error codes
//   - gateway/http: REST and RPC routes over the service
//   - output/*: live forwarding of endpoint events
//   - health, metric: operational visibility
//
// # Running
//
// The oscbridge command wires everything together:
//
//	oscbridge --port 8000
//	curl 'localhost:8080/api/messages?addressPattern=/synth/*&limit=10'
//
// The oscsend command sends test traffic:
//
//	oscsend --scenario synth,midi 127.0.0.1 8000
//
// # Non-goals
//
// OSC bundles, TCP transport, authenticating UDP senders and persisting
// messages across restarts are out of scope. The recorder output
// writes a log of received messages, but nothing is read back at startup.
package oscbridge
