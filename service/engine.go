// Package service exposes the OSC engine through its four boundary
// operations: CreateEndpoint, StopEndpoint, GetMessages and
// GetEndpointStatus. Every failure is a coded error that converts to an
// ErrorResponse; unexpected panics become INTERNAL_ERROR.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/registry"
	"github.com/c360/oscbridge/store"
)

// DefaultMessageLimit is applied when GetMessages omits the limit.
const DefaultMessageLimit = 100

// Operation names used in logs and metrics.
const (
	OpCreateEndpoint    = "createEndpoint"
	OpStopEndpoint      = "stopEndpoint"
	OpGetMessages       = "getMessages"
	OpGetEndpointStatus = "getEndpointStatus"
)

// CreateEndpointRequest opens a new UDP endpoint.
type CreateEndpointRequest struct {
	Port           int      `json:"port"`
	Capacity       *int     `json:"capacity,omitempty"`
	AddressFilters []string `json:"addressFilters,omitempty"`
}

// CreateEndpointResponse describes the started endpoint.
type CreateEndpointResponse struct {
	EndpointID string `json:"endpointId"`
	Port       int    `json:"port"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// StopEndpointRequest stops and removes an endpoint.
type StopEndpointRequest struct {
	EndpointID string `json:"endpointId"`
}

// StopEndpointResponse confirms the removal.
type StopEndpointResponse struct {
	EndpointID string `json:"endpointId"`
	Message    string `json:"message"`
}

// GetMessagesRequest queries one endpoint, or all when EndpointID is nil.
type GetMessagesRequest struct {
	EndpointID     *string  `json:"endpointId,omitempty"`
	AddressPattern *string  `json:"addressPattern,omitempty"`
	SinceSeconds   *float64 `json:"sinceSeconds,omitempty"`
	Limit          *int     `json:"limit,omitempty"`
}

// GetMessagesResponse carries the selected messages, newest first.
type GetMessagesResponse struct {
	Messages      []*osc.Message `json:"messages"`
	TotalCount    int            `json:"totalCount"`
	FilteredCount int            `json:"filteredCount"`
}

// GetEndpointStatusRequest selects one endpoint, or all when EndpointID is nil.
type GetEndpointStatusRequest struct {
	EndpointID *string `json:"endpointId,omitempty"`
}

// GetEndpointStatusResponse lists endpoint snapshots in registration order.
type GetEndpointStatusResponse struct {
	Endpoints []endpoint.Info `json:"endpoints"`
}

// ErrorResponse is the shape of every failed operation.
type ErrorResponse struct {
	Code        errors.Code         `json:"code"`
	Message     string              `json:"message"`
	Remediation *errors.Remediation `json:"remediation,omitempty"`
}

// NewErrorResponse converts any error into an ErrorResponse. Errors without a
// code are reported as INTERNAL_ERROR.
func NewErrorResponse(err error) ErrorResponse {
	var coded *errors.CodedError
	if !stderrors.As(err, &coded) {
		return ErrorResponse{Code: errors.CodeInternalError, Message: err.Error()}
	}

	resp := ErrorResponse{Code: coded.Code, Message: coded.Message}
	if resp.Message == "" {
		resp.Message = coded.Error()
	}
	if !coded.Remediation.IsZero() {
		r := coded.Remediation
		resp.Remediation = &r
	}
	return resp
}

// Deps holds the dependencies of an Engine.
type Deps struct {
	Registry        *registry.Registry
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	// BindHost is used for every endpoint created through the engine.
	BindHost string
	// Now overrides the clock used for sinceSeconds.
	Now func() time.Time
}

// Engine implements the boundary operations on top of a registry.
type Engine struct {
	registry *registry.Registry
	logger   *slog.Logger
	core     *metric.Metrics
	bindHost string
	now      func() time.Time
}

// NewEngine creates an engine. A registry is required.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Registry == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Engine", "NewEngine", "registry is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		registry: deps.Registry,
		logger:   logger.With("component", "service"),
		core:     deps.MetricsRegistry.CoreMetrics(),
		bindHost: deps.BindHost,
		now:      now,
	}, nil
}

// Registry returns the registry behind the engine.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// CreateEndpoint validates the request and starts a new endpoint.
func (e *Engine) CreateEndpoint(ctx context.Context, req CreateEndpointRequest) (resp *CreateEndpointResponse, err error) {
	defer e.guard(OpCreateEndpoint, time.Now(), &err)

	cfg := endpoint.Config{
		Port:           req.Port,
		AddressFilters: req.AddressFilters,
		BindHost:       e.bindHost,
	}
	if req.Capacity != nil {
		if *req.Capacity == 0 {
			return nil, errors.NewCoded(errors.CodeInvalidConfig, "capacity must be between 1 and 10000", errors.ErrInvalidConfig)
		}
		cfg.Capacity = *req.Capacity
	}

	res := e.registry.Create(ctx, cfg)
	if res.Err != nil {
		return nil, res.Err
	}

	return &CreateEndpointResponse{
		EndpointID: res.EndpointID,
		Port:       res.Port,
		Status:     res.State.String(),
		Message:    res.Message,
	}, nil
}

// StopEndpoint stops and removes an endpoint. Unknown ids fail with
// ENDPOINT_NOT_FOUND.
func (e *Engine) StopEndpoint(ctx context.Context, req StopEndpointRequest) (resp *StopEndpointResponse, err error) {
	defer e.guard(OpStopEndpoint, time.Now(), &err)

	if req.EndpointID == "" {
		return nil, errors.NewCoded(errors.CodeInvalidConfig, "endpointId is required", errors.ErrInvalidConfig)
	}

	res := e.registry.Stop(ctx, req.EndpointID)
	if !res.Found {
		return nil, res.Err
	}
	if res.Err != nil {
		// The endpoint is gone either way; report the incomplete shutdown in the message.
		e.logger.Warn("Endpoint removed with error", "endpoint_id", req.EndpointID, "error", res.Err)
	}

	return &StopEndpointResponse{EndpointID: res.EndpointID, Message: res.Message}, nil
}

// GetMessages queries stored messages. SinceSeconds selects messages received
// within that many seconds of now; the limit defaults to DefaultMessageLimit.
func (e *Engine) GetMessages(_ context.Context, req GetMessagesRequest) (resp *GetMessagesResponse, err error) {
	defer e.guard(OpGetMessages, time.Now(), &err)

	q := store.Query{Pattern: req.AddressPattern}

	if req.SinceSeconds != nil {
		sec := *req.SinceSeconds
		if sec < 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
			return nil, errors.NewCoded(errors.CodeInvalidConfig,
				fmt.Sprintf("sinceSeconds must be a non-negative number, got %v", sec), errors.ErrInvalidConfig)
		}
		since := e.now().Add(-time.Duration(sec * float64(time.Second)))
		q.Since = &since
	}

	limit := DefaultMessageLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	q.Limit = &limit

	id := ""
	if req.EndpointID != nil {
		id = *req.EndpointID
		if id == "" {
			return nil, errors.NewCoded(errors.CodeInvalidConfig, "endpointId must not be empty", errors.ErrInvalidConfig)
		}
	}

	res, err := e.registry.Query(id, q)
	if err != nil {
		return nil, err
	}

	return &GetMessagesResponse{
		Messages:      res.Messages,
		TotalCount:    res.TotalCount,
		FilteredCount: res.FilteredCount,
	}, nil
}

// GetEndpointStatus returns the snapshot of one or all endpoints.
func (e *Engine) GetEndpointStatus(_ context.Context, req GetEndpointStatusRequest) (resp *GetEndpointStatusResponse, err error) {
	defer e.guard(OpGetEndpointStatus, time.Now(), &err)

	id := ""
	if req.EndpointID != nil {
		id = *req.EndpointID
		if id == "" {
			return nil, errors.NewCoded(errors.CodeInvalidConfig, "endpointId must not be empty", errors.ErrInvalidConfig)
		}
	}

	infos, err := e.registry.Status(id)
	if err != nil {
		return nil, err
	}
	return &GetEndpointStatusResponse{Endpoints: infos}, nil
}

// Shutdown stops every endpoint.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.registry.Shutdown(ctx)
}

// guard converts panics into INTERNAL_ERROR, ensures every returned error is
// coded and records the operation metrics.
func (e *Engine) guard(op string, start time.Time, errp *error) {
	if p := recover(); p != nil {
		e.logger.Error("Operation panicked", "operation", op, "panic", p)
		*errp = errors.NewCoded(errors.CodeInternalError, fmt.Sprintf("%s failed unexpectedly", op), fmt.Errorf("panic: %v", p))
	}

	code := ""
	if *errp != nil {
		var coded *errors.CodedError
		if !stderrors.As(*errp, &coded) {
			*errp = errors.NewCoded(errors.CodeInternalError, fmt.Sprintf("%s failed", op), *errp)
		}
		code = string(errors.CodeOf(*errp))
		e.logger.Debug("Operation failed", "operation", op, "code", code, "error", *errp)
	}
	e.core.RecordOperation(op, time.Since(start), code)
}
