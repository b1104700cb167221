// Package http serves the OSC engine's boundary operations over HTTP, both as
// REST routes and as a single JSON RPC envelope.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/gateway"
	"github.com/c360/oscbridge/service"
)

// Codes produced by the gateway itself, before any operation runs.
const (
	CodeInvalidRequest  errors.Code = "INVALID_REQUEST"
	CodeRequestTooLarge errors.Code = "REQUEST_TOO_LARGE"
	CodeRateLimited     errors.Code = "RATE_LIMITED"
)

// getOrGenerateRequestID extracts the request ID from headers or generates a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// RPCRequest is the envelope accepted on the rpc route. Method is one of the
// operation names in package service.
type RPCRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCResponse carries either Result or Error, echoing the request ID.
type RPCResponse struct {
	ID     json.RawMessage        `json:"id,omitempty"`
	Result any                    `json:"result,omitempty"`
	Error  *service.ErrorResponse `json:"error,omitempty"`
}

// errorBody is the REST error shape.
type errorBody struct {
	Error  service.ErrorResponse `json:"error"`
	Status int                   `json:"status"`
}

// Deps holds the gateway dependencies.
type Deps struct {
	Operations gateway.Operations
	Logger     *slog.Logger
}

// Stats is a snapshot of the gateway counters.
type Stats struct {
	RequestsTotal   uint64        `json:"requestsTotal"`
	RequestsSuccess uint64        `json:"requestsSuccess"`
	RequestsFailed  uint64        `json:"requestsFailed"`
	RequestsLimited uint64        `json:"requestsLimited"`
	BytesReceived   uint64        `json:"bytesReceived"`
	BytesSent       uint64        `json:"bytesSent"`
	LastActivity    time.Time     `json:"lastActivity"`
	Uptime          time.Duration `json:"uptime"`
}

// Gateway adapts HTTP requests to the boundary operations.
type Gateway struct {
	config  gateway.Config
	ops     gateway.Operations
	logger  *slog.Logger
	limiter *rate.Limiter

	// Protects lastActivity for concurrent reads
	mu        sync.RWMutex
	startTime time.Time

	// Metrics (atomic operations)
	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
	requestsLimited atomic.Uint64
	bytesReceived   atomic.Uint64 // Total bytes received in requests
	bytesSent       atomic.Uint64 // Total bytes sent in responses
	lastActivity    time.Time
}

var _ gateway.HTTPHandler = (*Gateway)(nil)

// operation handles one decoded request and reports the success status.
type operation func(ctx context.Context, body []byte, r *http.Request) (int, any, error)

// NewGateway validates the configuration and creates an HTTP gateway.
func NewGateway(config gateway.Config, deps Deps) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}

	if deps.Operations == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway",
			"operations are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:    config,
		ops:       deps.Operations,
		logger:    logger.With("component", "http-gateway"),
		startTime: time.Now(),
	}
	if config.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}
	return g, nil
}

// RegisterHTTPHandlers registers the REST and RPC routes under prefix:
//
//	POST   {prefix}endpoints       createEndpoint
//	GET    {prefix}endpoints       getEndpointStatus (all)
//	GET    {prefix}endpoints/{id}  getEndpointStatus (one)
//	DELETE {prefix}endpoints/{id}  stopEndpoint
//	GET    {prefix}messages        getMessages
//	POST   {prefix}rpc             any operation by name
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc("POST "+prefix+"endpoints", g.handle(service.OpCreateEndpoint, g.createEndpoint))
	mux.HandleFunc("GET "+prefix+"endpoints", g.handle(service.OpGetEndpointStatus, g.endpointStatus))
	mux.HandleFunc("GET "+prefix+"endpoints/{id}", g.handle(service.OpGetEndpointStatus, g.endpointStatus))
	mux.HandleFunc("DELETE "+prefix+"endpoints/{id}", g.handle(service.OpStopEndpoint, g.stopEndpoint))
	mux.HandleFunc("GET "+prefix+"messages", g.handle(service.OpGetMessages, g.getMessages))
	mux.HandleFunc("POST "+prefix+"rpc", g.handle("rpc", g.rpc))

	if g.config.EnableCORS {
		mux.HandleFunc("OPTIONS "+prefix, func(w http.ResponseWriter, r *http.Request) {
			g.applyCORS(w, r)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// handle wraps an operation with request IDs, CORS, rate limiting, body
// limits, a timeout and error mapping.
func (g *Gateway) handle(op string, fn operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		g.requestsTotal.Add(1)
		g.mu.Lock()
		g.lastActivity = time.Now()
		g.mu.Unlock()

		if g.config.EnableCORS {
			g.applyCORS(w, r)
		}

		if g.limiter != nil && !g.limiter.Allow() {
			g.requestsLimited.Add(1)
			w.Header().Set("Retry-After", "1")
			g.writeError(w, http.StatusTooManyRequests, service.ErrorResponse{
				Code:    CodeRateLimited,
				Message: "request rate limit exceeded",
			})
			return
		}

		// Close body when done (must be before any error returns to prevent resource leak)
		defer r.Body.Close()

		// Read request body with size limit + 1 to detect if request exceeds limit
		body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
		if err != nil {
			g.writeError(w, http.StatusBadRequest, service.ErrorResponse{
				Code:    CodeInvalidRequest,
				Message: "failed to read request body",
			})
			return
		}
		if int64(len(body)) > g.config.MaxRequestSize {
			g.writeError(w, http.StatusRequestEntityTooLarge, service.ErrorResponse{
				Code:    CodeRequestTooLarge,
				Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize),
			})
			return
		}
		g.bytesReceived.Add(uint64(len(body)))

		ctx, cancel := context.WithTimeout(r.Context(), g.config.Timeout())
		defer cancel()

		status, result, err := fn(ctx, body, r)
		if err != nil {
			resp := sanitize(service.NewErrorResponse(err))
			code := statusForCode(resp.Code)
			logger := g.logger.With("request_id", requestID, "operation", op)
			if code >= http.StatusInternalServerError {
				logger.Error("Request failed", "code", resp.Code, "error", err)
			} else {
				logger.Debug("Request rejected", "code", resp.Code, "error", err)
			}
			g.writeError(w, code, resp)
			return
		}

		g.writeJSON(w, status, result)
	}
}

func (g *Gateway) createEndpoint(ctx context.Context, body []byte, _ *http.Request) (int, any, error) {
	var req service.CreateEndpointRequest
	if err := decodeBody(body, &req); err != nil {
		return 0, nil, err
	}
	resp, err := g.ops.CreateEndpoint(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, resp, nil
}

func (g *Gateway) stopEndpoint(ctx context.Context, _ []byte, r *http.Request) (int, any, error) {
	resp, err := g.ops.StopEndpoint(ctx, service.StopEndpointRequest{EndpointID: r.PathValue("id")})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (g *Gateway) endpointStatus(ctx context.Context, _ []byte, r *http.Request) (int, any, error) {
	var req service.GetEndpointStatusRequest
	if id := r.PathValue("id"); id != "" {
		req.EndpointID = &id
	}
	resp, err := g.ops.GetEndpointStatus(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

func (g *Gateway) getMessages(ctx context.Context, _ []byte, r *http.Request) (int, any, error) {
	req, err := messagesRequestFromQuery(r)
	if err != nil {
		return 0, nil, err
	}
	resp, err := g.ops.GetMessages(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, resp, nil
}

// rpc answers 200 whenever the envelope itself is well formed; operation
// failures travel in RPCResponse.Error.
func (g *Gateway) rpc(ctx context.Context, body []byte, _ *http.Request) (int, any, error) {
	var req RPCRequest
	if err := decodeBody(body, &req); err != nil {
		return 0, nil, err
	}

	resp := RPCResponse{ID: req.ID}
	result, err := g.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		e := sanitize(service.NewErrorResponse(err))
		resp.Error = &e
		g.logger.Debug("RPC call failed", "method", req.Method, "code", e.Code, "error", err)
		return http.StatusOK, resp, nil
	}
	resp.Result = result
	return http.StatusOK, resp, nil
}

func (g *Gateway) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case service.OpCreateEndpoint:
		var p service.CreateEndpointRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return g.ops.CreateEndpoint(ctx, p)
	case service.OpStopEndpoint:
		var p service.StopEndpointRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return g.ops.StopEndpoint(ctx, p)
	case service.OpGetMessages:
		var p service.GetMessagesRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return g.ops.GetMessages(ctx, p)
	case service.OpGetEndpointStatus:
		var p service.GetEndpointStatusRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return g.ops.GetEndpointStatus(ctx, p)
	default:
		return nil, errors.NewCoded(CodeInvalidRequest, fmt.Sprintf("unknown method %q", method), errors.ErrInvalidData)
	}
}

// Stats returns a snapshot of the request counters.
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	last := g.lastActivity
	g.mu.RUnlock()

	return Stats{
		RequestsTotal:   g.requestsTotal.Load(),
		RequestsSuccess: g.requestsSuccess.Load(),
		RequestsFailed:  g.requestsFailed.Load(),
		RequestsLimited: g.requestsLimited.Load(),
		BytesReceived:   g.bytesReceived.Load(),
		BytesSent:       g.bytesSent.Load(),
		LastActivity:    last,
		Uptime:          time.Since(g.startTime),
	}
}

func decodeBody(body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.NewCoded(CodeInvalidRequest, "request body is required", errors.ErrInvalidData)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.NewCoded(CodeInvalidRequest, fmt.Sprintf("invalid JSON body: %v", err), errors.ErrInvalidData)
	}
	return nil
}

// decodeParams treats absent or null params as an empty request.
func decodeParams(params json.RawMessage, v any) error {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return errors.NewCoded(CodeInvalidRequest, fmt.Sprintf("invalid params: %v", err), errors.ErrInvalidData)
	}
	return nil
}

// messagesRequestFromQuery reads endpointId, addressPattern, sinceSeconds and
// limit. A parameter that is present but empty is passed through as empty.
func messagesRequestFromQuery(r *http.Request) (service.GetMessagesRequest, error) {
	q := r.URL.Query()
	var req service.GetMessagesRequest

	if q.Has("endpointId") {
		v := q.Get("endpointId")
		req.EndpointID = &v
	}
	if q.Has("addressPattern") {
		v := q.Get("addressPattern")
		req.AddressPattern = &v
	}
	if q.Has("sinceSeconds") {
		f, err := strconv.ParseFloat(q.Get("sinceSeconds"), 64)
		if err != nil {
			return req, errors.NewCoded(CodeInvalidRequest, "sinceSeconds must be a number", errors.ErrInvalidData)
		}
		req.SinceSeconds = &f
	}
	if q.Has("limit") {
		n, err := strconv.Atoi(q.Get("limit"))
		if err != nil {
			return req, errors.NewCoded(CodeInvalidRequest, "limit must be an integer", errors.ErrInvalidData)
		}
		req.Limit = &n
	}
	return req, nil
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// statusForCode maps error codes to HTTP status codes
func statusForCode(code errors.Code) int {
	switch code {
	case errors.CodeInvalidPort, errors.CodeInvalidConfig, errors.CodeInvalidOSCMessage, CodeInvalidRequest:
		return http.StatusBadRequest
	case errors.CodeEndpointNotFound:
		return http.StatusNotFound
	case errors.CodePortConflict, errors.CodeAlreadyActive, errors.CodePortInUse:
		return http.StatusConflict
	case errors.CodePermissionDenied:
		return http.StatusForbidden
	case errors.CodeNetworkError:
		return http.StatusServiceUnavailable
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// sanitize hides internal error details from external clients. They are
// logged by the caller.
func sanitize(resp service.ErrorResponse) service.ErrorResponse {
	if resp.Code == errors.CodeInternalError {
		return service.ErrorResponse{Code: resp.Code, Message: "internal server error"}
	}
	return resp
}

func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		g.writeError(w, http.StatusInternalServerError, service.ErrorResponse{
			Code:    errors.CodeInternalError,
			Message: "internal server error",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		// Can't write error response at this point
		g.requestsFailed.Add(1)
		return
	}

	g.bytesSent.Add(uint64(len(data)))
	g.requestsSuccess.Add(1)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, resp service.ErrorResponse) {
	g.requestsFailed.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(errorBody{Error: resp, Status: statusCode})
	n, _ := w.Write(data)
	g.bytesSent.Add(uint64(n))
}
