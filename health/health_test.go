package health

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/endpoint"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty is healthy", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"degraded wins over healthy", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins over degraded", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == StatusHealthy, got.Healthy)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	got := Aggregate("system", subs)
	got.SubStatuses[0].Component = "changed"
	assert.Equal(t, "a", subs[0].Component)
}

func TestFromEndpoint(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	base := endpoint.Info{
		ID:            "endpoint-1",
		Port:          8000,
		CreatedAt:     now.Add(-time.Minute),
		TotalReceived: 12,
		DecodeErrors:  2,
	}

	tests := []struct {
		name   string
		mutate func(*endpoint.Info)
		want   string
	}{
		{"active", func(i *endpoint.Info) { i.State = endpoint.StateActive }, StatusHealthy},
		{"active with socket errors", func(i *endpoint.Info) {
			i.State = endpoint.StateActive
			i.SocketErrors = 1
		}, StatusDegraded},
		{"error", func(i *endpoint.Info) { i.State = endpoint.StateError }, StatusUnhealthy},
		{"stopped", func(i *endpoint.Info) { i.State = endpoint.StateStopped }, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := base
			tt.mutate(&info)
			got := FromEndpoint(info, now)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "endpoint-1", got.Component)
			assert.Equal(t, now, got.Timestamp)
			require.NotNil(t, got.Metrics)
			assert.Equal(t, time.Minute, got.Metrics.Uptime)
			assert.Equal(t, int64(12), got.Metrics.MessagesProcessed)
			assert.Equal(t, int64(2)+info.SocketErrors, got.Metrics.ErrorCount)
		})
	}
}

func TestFromError_Sanitizes(t *testing.T) {
	got := FromError("nats", fmt.Errorf("dial nats://user:pw@10.1.2.3:4222 failed: token=abc123"))
	assert.True(t, got.IsUnhealthy())
	assert.NotContains(t, got.Message, "10.1.2.3")
	assert.NotContains(t, got.Message, "abc123")
	assert.NotContains(t, got.Message, "user:pw")

	assert.True(t, FromError("nats", nil).IsHealthy())
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"connection refused", "connection refused"},
		{"post https://hooks.example.com/x failed", "post [URL] failed"},
		{"open /var/lib/oscbridge/rec.jsonl", "open [PATH]"},
		{"bind 192.168.1.5 failed", "bind [IP] failed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeErrorMessage(tt.in), tt.in)
	}
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("webhook", "delivering")
	m.UpdateDegraded("recorder", "slow disk")
	m.UpdateError("nats", stderrors.New("disconnected"))

	status, ok := m.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())

	statuses := m.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, []string{"nats", "recorder", "webhook"},
		[]string{statuses[0].Component, statuses[1].Component, statuses[2].Component})

	assert.True(t, m.AggregateHealth("oscbridge").IsUnhealthy())

	m.Remove("nats")
	assert.True(t, m.AggregateHealth("oscbridge").IsDegraded())
	assert.Len(t, m.GetAll(), 2)
}

func TestMonitor_UpdateFillsNameAndTimestamp(t *testing.T) {
	m := NewMonitor()
	m.Update("nats", Status{Status: StatusHealthy, Component: "other"})

	status, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", status.Component)
	assert.False(t, status.Timestamp.IsZero())
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateHealthy(fmt.Sprintf("output-%d", i%5), "ok")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("oscbridge")
		}()
	}
	wg.Wait()
	assert.Len(t, m.Statuses(), 5)
}

func TestHandler(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("nats", "connected")

	infos := []endpoint.Info{{ID: "endpoint-1", Port: 8000, State: endpoint.StateActive}}
	lister := func() []endpoint.Info { return infos }

	rec := httptest.NewRecorder()
	Handler("oscbridge", m, lister).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "oscbridge", body.Component)
	assert.True(t, body.IsHealthy())
	require.Len(t, body.SubStatuses, 2)
	assert.Equal(t, "nats", body.SubStatuses[0].Component)
	assert.Equal(t, "endpoint-1", body.SubStatuses[1].Component)

	infos[0].State = endpoint.StateError
	rec = httptest.NewRecorder()
	Handler("oscbridge", m, lister).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReport_NilSources(t *testing.T) {
	status := Report("oscbridge", nil, nil, time.Now())
	assert.True(t, status.IsHealthy())
	assert.Empty(t, status.SubStatuses)
}
