package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/c360/oscbridge/endpoint"
)

// EndpointLister returns a snapshot of every endpoint
type EndpointLister func() []endpoint.Info

// Report combines the monitor's statuses with one status per endpoint
func Report(system string, m *Monitor, endpoints EndpointLister, now time.Time) Status {
	var subs []Status
	if m != nil {
		subs = m.Statuses()
	}
	if endpoints != nil {
		for _, info := range endpoints() {
			subs = append(subs, FromEndpoint(info, now))
		}
	}

	status := Aggregate(system, subs)
	status.Timestamp = now
	return status
}

// Handler serves Report as JSON. Unhealthy systems answer 503 so load
// balancers and probes can act on the status code alone.
func Handler(system string, m *Monitor, endpoints EndpointLister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := Report(system, m, endpoints, time.Now())

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
