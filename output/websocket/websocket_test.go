package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gosc "github.com/hypebeast/go-osc/osc"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/pkg/retry"
	"github.com/c360/oscbridge/registry"
)

func newTestOutput(t *testing.T, cfg Config, metrics *metric.MetricsRegistry) (*Output, *httptest.Server) {
	t.Helper()
	out, err := NewOutput(cfg, Deps{MetricsRegistry: metrics})
	require.NoError(t, err)

	mux := http.NewServeMux()
	out.RegisterHTTPHandlers("/", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = out.Close(ctx)
		srv.Close()
	})
	return out, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, TypeWelcome, env.Type)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) MessageEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env MessageEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.NotEmpty(t, env.ID)
	return env
}

func messageEvent(t *testing.T, endpointID, address string) endpoint.MessageEvent {
	t.Helper()
	b, err := osc.Encode(address, osc.Int32(1))
	require.NoError(t, err)
	msg, err := osc.Decode(b, "127.0.0.1", 50000)
	require.NoError(t, err)
	return endpoint.MessageEvent{EndpointID: endpointID, Message: msg}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Path: "ws", QueueSize: 1}.Validate())
	assert.Error(t, Config{Path: "/ws"}.Validate())
	assert.Error(t, Config{Path: "/ws", QueueSize: 1, PingInterval: -time.Second}.Validate())

	_, err := NewOutput(Config{QueueSize: -1}, Deps{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name      string
		filter    Filter
		endpoint  string
		address   string
		isMessage bool
		want      bool
	}{
		{"empty filter", Filter{}, "endpoint-1", "/a", true, true},
		{"endpoint match", Filter{EndpointID: "endpoint-1"}, "endpoint-1", "/a", true, true},
		{"endpoint mismatch", Filter{EndpointID: "endpoint-2"}, "endpoint-1", "/a", true, false},
		{"pattern match", Filter{AddressPattern: "/synth/*"}, "endpoint-1", "/synth/freq", true, true},
		{"pattern mismatch", Filter{AddressPattern: "/synth/*"}, "endpoint-1", "/drum/kick", true, false},
		{"pattern ignored for non-message", Filter{AddressPattern: "/synth/*"}, "endpoint-1", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.matches(tt.endpoint, tt.address, tt.isMessage))
		})
	}
}

func TestOutput_BroadcastsEvents(t *testing.T) {
	metrics := metric.NewMetricsRegistry()
	out, srv := newTestOutput(t, Config{}, metrics)
	conn := dial(t, srv, "")

	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Metrics.StreamClients))

	out.OnMessage(messageEvent(t, "endpoint-1", "/synth/freq"))
	env := readEnvelope(t, conn)
	assert.Equal(t, TypeMessage, env.Type)

	var ev struct {
		EndpointID string `json:"endpointId"`
		Message    struct {
			Address string `json:"address"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	assert.Equal(t, "endpoint-1", ev.EndpointID)
	assert.Equal(t, "/synth/freq", ev.Message.Address)

	out.OnError(endpoint.ErrorEvent{EndpointID: "endpoint-1", Kind: endpoint.ErrorKindDecode,
		Code: errors.CodeInvalidOSCMessage, Reason: "too_short", At: time.Now()})
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeError, env.Type)
	assert.Contains(t, string(env.Payload), "too_short")

	out.OnStateChange(endpoint.StateEvent{EndpointID: "endpoint-1", From: endpoint.StateActive,
		To: endpoint.StateStopped, At: time.Now()})
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeState, env.Type)
	assert.Contains(t, string(env.Payload), `"to":"stopped"`)

	require.Eventually(t, func() bool {
		sent, _ := out.Stats()
		return sent == 4
	}, time.Second, 5*time.Millisecond)
}

func TestOutput_QueryFilter(t *testing.T) {
	out, srv := newTestOutput(t, Config{}, nil)
	conn := dial(t, srv, "endpointId=endpoint-2&addressPattern=/synth/*")
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	out.OnMessage(messageEvent(t, "endpoint-1", "/synth/freq"))
	out.OnMessage(messageEvent(t, "endpoint-2", "/drum/kick"))
	out.OnMessage(messageEvent(t, "endpoint-2", "/synth/cutoff"))

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeMessage, env.Type)
	assert.Contains(t, string(env.Payload), "/synth/cutoff")
}

func TestOutput_SubscribeChangesFilter(t *testing.T) {
	out, srv := newTestOutput(t, Config{}, nil)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    TypeSubscribe,
		"payload": map[string]string{"addressPattern": "/fx/?"},
	}))
	env := readEnvelope(t, conn)
	require.Equal(t, TypeSubscribed, env.Type)

	out.OnMessage(messageEvent(t, "endpoint-1", "/fx/delay"))
	out.OnMessage(messageEvent(t, "endpoint-1", "/fx/1"))

	env = readEnvelope(t, conn)
	assert.Contains(t, string(env.Payload), `"/fx/1"`)
}

func TestOutput_CloseDisconnectsClients(t *testing.T) {
	metrics := metric.NewMetricsRegistry()
	out, srv := newTestOutput(t, Config{}, metrics)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, out.Close(ctx))

	assert.Equal(t, 0, out.ClientCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Metrics.StreamClients))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	// New clients are refused after close
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOutput_RejectsForeignOrigin(t *testing.T) {
	_, srv := newTestOutput(t, Config{AllowedOrigins: []string{"http://localhost:3000"}}, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:3000")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	_ = conn.Close()
}

func TestOutput_RegistrySubscription(t *testing.T) {
	reg := registry.New(registry.Deps{RetryConfig: &retry.Config{MaxAttempts: 1}})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})

	out, srv := newTestOutput(t, Config{}, nil)
	unsubscribe := reg.Subscribe(out)
	defer unsubscribe()

	conn := dial(t, srv, "addressPattern=/transport/*")
	require.Eventually(t, func() bool { return out.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := udp.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, udp.Close())

	res := reg.Create(context.Background(), endpoint.Config{Port: port, BindHost: "127.0.0.1"})
	require.NoError(t, res.Err)

	// The activation state event reaches the client regardless of address pattern
	env := readEnvelope(t, conn)
	require.Equal(t, TypeState, env.Type)

	require.NoError(t, gosc.NewClient("127.0.0.1", port).Send(gosc.NewMessage("/transport/play", int32(1))))

	env = readEnvelope(t, conn)
	require.Equal(t, TypeMessage, env.Type)
	assert.Contains(t, string(env.Payload), "/transport/play")
}
