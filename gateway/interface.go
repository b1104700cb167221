package gateway

import (
	"context"
	"net/http"

	"github.com/c360/oscbridge/service"
)

// Operations is the set of boundary operations a gateway exposes.
// *service.Engine implements it.
type Operations interface {
	CreateEndpoint(ctx context.Context, req service.CreateEndpointRequest) (*service.CreateEndpointResponse, error)
	StopEndpoint(ctx context.Context, req service.StopEndpointRequest) (*service.StopEndpointResponse, error)
	GetMessages(ctx context.Context, req service.GetMessagesRequest) (*service.GetMessagesResponse, error)
	GetEndpointStatus(ctx context.Context, req service.GetEndpointStatusRequest) (*service.GetEndpointStatusResponse, error)
}

var _ Operations = (*service.Engine)(nil)

// HTTPHandler is implemented by anything that mounts routes on the
// daemon's HTTP server.
//
// The prefix parameter is the URL path prefix, for example "/api/".
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
