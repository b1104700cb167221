// Package websocket streams endpoint events to WebSocket clients in real time.
//
// # Overview
//
// Output subscribes to the endpoint registry and fans every message, error
// and state event out to connected clients. It is mounted on the daemon's
// HTTP server rather than running its own listener.
//
// # Quick Start
//
//	out, err := websocket.NewOutput(websocket.DefaultConfig(), websocket.Deps{Logger: logger})
//	unsubscribe := reg.Subscribe(out)
//	out.RegisterHTTPHandlers("/", mux)
//
// # Protocol
//
// Every frame is a MessageEnvelope:
//
//	{"type":"message","id":"<uuid>","timestamp":1700000000000,"payload":{...}}
//
// Server to client types:
//
//   - welcome: sent once after the upgrade, payload {clientId, filter}
//   - message: payload is an endpoint MessageEvent
//   - error: payload is an endpoint ErrorEvent (decode or socket)
//   - state: payload is an endpoint StateEvent
//   - subscribed: acknowledges a filter change
//
// Client to server:
//
//   - subscribe: payload {endpointId, addressPattern} replaces the filter
//
// The initial filter can also be given as query parameters:
//
//	ws://localhost:8080/ws?endpointId=endpoint-1&addressPattern=/synth/*
//
// # Client Management
//
// Each client gets a read goroutine (subscribe requests, pongs) and a write
// goroutine that drains a bounded queue. When a client falls behind, the
// oldest queued envelopes are dropped so that registry callbacks never
// block. Delivered and dropped envelopes are counted in
// oscbridge_forward_messages_total{sink="websocket"}.
//
// Clients that miss two consecutive pings are disconnected.
package websocket
