// Package gateway exposes the boundary operations of the OSC engine to
// external clients.
//
// A gateway is a thin protocol adapter: it decodes a request, calls one of
// the Operations and encodes either the result or a service.ErrorResponse.
// It never touches endpoints or stores directly.
//
// # Protocol Support
//
//   - HTTP: REST routes plus a JSON RPC envelope (gateway/http/)
//
// # Handler Registration
//
// Gateways register their routes on the daemon's central mux:
//
//	type HTTPHandler interface {
//	    RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
//	}
//
// # Example Configuration
//
//	http:
//	  port: 8080
//	  rate_limit: 50
//	  burst: 100
//	  enable_cors: true
//	  cors_origins: ["http://localhost:3000"]
//	  max_request_size: 1048576
//	  timeout: 5s
package gateway
