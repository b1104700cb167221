package endpoint

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	gosc "github.com/hypebeast/go-osc/osc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/pkg/retry"
	"github.com/c360/oscbridge/store"
)

// freePort returns a UDP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func newTestEndpoint(t *testing.T, cfg Config, registry *metric.MetricsRegistry) *Endpoint {
	t.Helper()
	if cfg.BindHost == "" {
		cfg.BindHost = "127.0.0.1"
	}
	once := retry.Config{MaxAttempts: 1}
	ep, err := New(Deps{
		ID:              "endpoint-test",
		Config:          cfg,
		MetricsRegistry: registry,
		RetryConfig:     &once,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ep.Close(ctx)
	})
	return ep
}

func send(t *testing.T, port int, address string, args ...interface{}) {
	t.Helper()
	client := gosc.NewClient("127.0.0.1", port)
	msg := gosc.NewMessage(address, args...)
	require.NoError(t, client.Send(msg))
}

func sendRaw(t *testing.T, port int, data []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func nextMessage(t *testing.T, ep *Endpoint) MessageEvent {
	t.Helper()
	select {
	case ev := <-ep.Messages():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
	return MessageEvent{}
}

func nextError(t *testing.T, ep *Endpoint) ErrorEvent {
	t.Helper()
	select {
	case ev := <-ep.Errors():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
	return ErrorEvent{}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		code errors.Code
	}{
		{"valid defaults", Config{Port: 9000}, ""},
		{"valid full", Config{Port: 65535, Capacity: 10000, AddressFilters: []string{"/a/*"}, BindHost: "::1"}, ""},
		{"port too low", Config{Port: 1023}, errors.CodeInvalidPort},
		{"port too high", Config{Port: 65536}, errors.CodeInvalidPort},
		{"capacity too high", Config{Port: 9000, Capacity: 10001}, errors.CodeInvalidConfig},
		{"negative capacity", Config{Port: 9000, Capacity: -1}, errors.CodeInvalidConfig},
		{"empty filter", Config{Port: 9000, AddressFilters: []string{"/a", ""}}, errors.CodeInvalidConfig},
		{"bad bind host", Config{Port: 9000, BindHost: "not an ip"}, errors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Port: 9000}.WithDefaults()
	assert.Equal(t, store.DefaultCapacity, cfg.Capacity)
	assert.Equal(t, DefaultBindHost, cfg.BindHost)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(7).String())

	text, err := StateActive.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "active", string(text))
}

func TestSuggestPorts(t *testing.T) {
	assert.Equal(t, []int{8001, 8002, 8003}, SuggestPorts(8000))
	assert.Equal(t, []int{65534, 65535}, SuggestPorts(65533))
	assert.Equal(t, []int{}, SuggestPorts(65535))
}

func TestClassifyBindError(t *testing.T) {
	opErr := func(errno error) error {
		return &net.OpError{Op: "listen", Net: "udp", Err: os.NewSyscallError("bind", errno)}
	}

	tests := []struct {
		name  string
		err   error
		code  errors.Code
		ports []int
		hint  bool
	}{
		{"errno in use", opErr(syscall.EADDRINUSE), errors.CodePortInUse, []int{9001, 9002, 9003}, true},
		{"text in use", fmt.Errorf("listen udp :9000: bind: address already in use"), errors.CodePortInUse, []int{9001, 9002, 9003}, true},
		{"errno access", opErr(syscall.EACCES), errors.CodePermissionDenied, nil, true},
		{"errno perm", opErr(syscall.EPERM), errors.CodePermissionDenied, nil, true},
		{"text permission", fmt.Errorf("bind: Permission denied"), errors.CodePermissionDenied, nil, true},
		{"other", fmt.Errorf("network is unreachable"), errors.CodeNetworkError, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coded := ClassifyBindError(tt.err, 9000)
			assert.Equal(t, tt.code, coded.Code)
			assert.Equal(t, tt.ports, coded.Remediation.SuggestedPorts)
			assert.Equal(t, tt.hint, coded.Remediation.Hint != "")
			assert.ErrorIs(t, coded, tt.err)
		})
	}

	assert.ErrorIs(t, ClassifyBindError(opErr(syscall.EADDRINUSE), 9000), errors.ErrPortInUse)
	assert.ErrorIs(t, ClassifyBindError(opErr(syscall.EACCES), 9000), errors.ErrPermissionDenied)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Deps{ID: "endpoint-1", Config: Config{Port: 80}})
	assert.Equal(t, errors.CodeInvalidPort, errors.CodeOf(err))

	_, err = New(Deps{Config: Config{Port: 9000}})
	assert.True(t, errors.IsInvalid(err))
}

func TestEndpoint_Lifecycle(t *testing.T) {
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port, Capacity: 10}, nil)
	ctx := context.Background()

	assert.Equal(t, StateStopped, ep.State())
	assert.Nil(t, ep.LocalAddr())

	require.NoError(t, ep.Start(ctx))
	assert.Equal(t, StateActive, ep.State())
	assert.NotNil(t, ep.LocalAddr())

	ev := <-ep.StateChanges()
	assert.Equal(t, StateStopped, ev.From)
	assert.Equal(t, StateActive, ev.To)

	// Second start is rejected without touching the socket
	err := ep.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeAlreadyActive, errors.CodeOf(err))
	assert.Equal(t, StateActive, ep.State())

	send(t, port, "/synth/freq", float32(440))
	got := nextMessage(t, ep)
	assert.Equal(t, "endpoint-test", got.EndpointID)
	assert.Equal(t, "/synth/freq", got.Message.Address)
	assert.Equal(t, []osc.Argument{osc.Float32(440)}, got.Message.Arguments)
	assert.Equal(t, "127.0.0.1", got.Message.SourceAddress)

	info := ep.Info()
	assert.Equal(t, int64(1), info.TotalReceived)
	assert.Equal(t, 1, info.MessageCount)
	assert.Equal(t, 10, info.Capacity)
	assert.Equal(t, StateActive, info.State)
	assert.NotNil(t, info.LastActivity)

	require.NoError(t, ep.Stop(ctx))
	assert.Equal(t, StateStopped, ep.State())
	assert.Nil(t, ep.LocalAddr())
	ev = <-ep.StateChanges()
	assert.Equal(t, StateStopped, ev.To)

	// Idempotent stop
	require.NoError(t, ep.Stop(ctx))

	// Messages survive a stop and the port can be bound again
	assert.Equal(t, 1, ep.Store().Count())
	require.NoError(t, ep.Start(ctx))
	assert.Equal(t, StateActive, ep.State())
}

func TestEndpoint_DecodeErrorKeepsListening(t *testing.T) {
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port}, nil)
	require.NoError(t, ep.Start(context.Background()))

	sendRaw(t, port, []byte{'/', 'a', 0})
	ev := nextError(t, ep)
	assert.Equal(t, ErrorKindDecode, ev.Kind)
	assert.Equal(t, errors.CodeInvalidOSCMessage, ev.Code)
	assert.Equal(t, string(osc.ReasonTooShort), ev.Reason)
	assert.ErrorIs(t, ev.Err, errors.ErrInvalidData)

	assert.Equal(t, StateActive, ep.State())

	send(t, port, "/still/listening", int32(1))
	got := nextMessage(t, ep)
	assert.Equal(t, "/still/listening", got.Message.Address)

	info := ep.Info()
	assert.Equal(t, int64(1), info.DecodeErrors)
	assert.Equal(t, int64(1), info.TotalReceived)
}

func TestEndpoint_FiltersAndTotalReceived(t *testing.T) {
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port, Capacity: 2, AddressFilters: []string{"/synth/*"}}, nil)
	require.NoError(t, ep.Start(context.Background()))

	send(t, port, "/drum/kick", int32(1))
	for i := 0; i < 3; i++ {
		send(t, port, fmt.Sprintf("/synth/%d", i), int32(i))
		nextMessage(t, ep)
	}

	// The filtered datagram was read before the accepted ones
	assert.Equal(t, int64(3), ep.TotalReceived())
	assert.Equal(t, 2, ep.Store().Count())
	assert.GreaterOrEqual(t, ep.TotalReceived(), int64(ep.Store().Count()))
}

func TestEndpoint_PortInUse(t *testing.T) {
	holder, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer holder.Close()
	port := holder.LocalAddr().(*net.UDPAddr).Port

	ep := newTestEndpoint(t, Config{Port: port}, nil)
	err = ep.Start(context.Background())
	require.Error(t, err)

	assert.Equal(t, errors.CodePortInUse, errors.CodeOf(err))
	assert.NotEmpty(t, errors.RemediationOf(err).SuggestedPorts)
	assert.Equal(t, StateError, ep.State())
	assert.Nil(t, ep.LocalAddr())

	ev := nextError(t, ep)
	assert.Equal(t, ErrorKindSocket, ev.Kind)
	assert.Equal(t, errors.CodePortInUse, ev.Code)
	assert.Equal(t, SuggestPorts(port), ev.SuggestedPorts)

	// Stopping a faulted endpoint succeeds and leaves it stopped
	require.NoError(t, ep.Stop(context.Background()))
	assert.Equal(t, StateStopped, ep.State())
	assert.Nil(t, ep.LocalAddr())

	// Once the port is free the endpoint can recover
	require.NoError(t, holder.Close())
	require.NoError(t, ep.Start(context.Background()))
	assert.Equal(t, StateActive, ep.State())
}

func TestEndpoint_SocketFaultWhileActive(t *testing.T) {
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port}, nil)
	require.NoError(t, ep.Start(context.Background()))

	// Drain the Stopped -> Active transition
	select {
	case <-ep.StateChanges():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start transition")
	}

	// Close the socket behind the endpoint's back; stopping stays false
	ep.mu.Lock()
	require.NoError(t, ep.conn.Close())
	ep.mu.Unlock()

	ev := nextError(t, ep)
	assert.Equal(t, ErrorKindSocket, ev.Kind)
	assert.Equal(t, "endpoint-test", ev.EndpointID)
	assert.Equal(t, StateError, ep.State())
	assert.Equal(t, int64(1), ep.Info().SocketErrors)

	select {
	case change := <-ep.StateChanges():
		assert.Equal(t, StateActive, change.From)
		assert.Equal(t, StateError, change.To)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fault transition")
	}

	// The fault is reported once
	select {
	case extra := <-ep.Errors():
		t.Fatalf("unexpected second error event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, ep.Stop(context.Background()))
	assert.Equal(t, StateStopped, ep.State())
	assert.Nil(t, ep.LocalAddr())

	// The port was released, so the endpoint can start again
	require.NoError(t, ep.Start(context.Background()))
	assert.Equal(t, StateActive, ep.State())
}

func TestEndpoint_InfoNeverShowsMoreStoredThanReceived(t *testing.T) {
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port, Capacity: 50}, nil)
	require.NoError(t, ep.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	sent := make(chan struct{})
	go func() {
		defer close(sent)
		conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
		if err != nil {
			return
		}
		defer conn.Close()
		data, err := osc.Encode("/load", osc.Int32(1))
		if err != nil {
			return
		}
		for ctx.Err() == nil {
			_, _ = conn.Write(data)
		}
	}()

	for ctx.Err() == nil {
		info := ep.Info()
		require.LessOrEqual(t, int64(info.MessageCount), info.TotalReceived)
	}
	<-sent
}

func TestEndpoint_StopHonorsContext(t *testing.T) {
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port}, nil)
	require.NoError(t, ep.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The socket is closed before waiting, so the loop exits almost immediately;
	// either outcome is acceptable but the endpoint must end up released.
	err := ep.Stop(ctx)
	if err != nil {
		assert.True(t, stderrors.Is(err, context.Canceled))
	}
	require.Eventually(t, func() bool { return ep.LocalAddr() == nil }, time.Second, 10*time.Millisecond)
}

func TestEndpoint_EventsDroppedWhenNobodyListens(t *testing.T) {
	port := freePort(t)
	once := retry.Config{MaxAttempts: 1}
	ep, err := New(Deps{
		ID:          "endpoint-drops",
		Config:      Config{Port: port, BindHost: "127.0.0.1"},
		EventBuffer: 1,
		RetryConfig: &once,
	})
	require.NoError(t, err)
	defer ep.Close(context.Background())
	require.NoError(t, ep.Start(context.Background()))

	for i := 0; i < 5; i++ {
		send(t, port, "/burst", int32(i))
	}

	require.Eventually(t, func() bool { return ep.TotalReceived() == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(4), ep.Info().DroppedEvents)
}

func TestEndpoint_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	port := freePort(t)
	ep := newTestEndpoint(t, Config{Port: port}, registry)
	require.NoError(t, ep.Start(context.Background()))

	send(t, port, "/m", int32(1))
	nextMessage(t, ep)
	sendRaw(t, port, []byte("junk-junk"))
	nextError(t, ep)

	core := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MessagesReceived.WithLabelValues("endpoint-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.DecodeErrors.WithLabelValues("endpoint-test", "address_unterminated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ep.metrics.packetsReceived))

	require.NoError(t, ep.Close(context.Background()))
	assert.False(t, registry.Unregister("endpoint-test", "packets_received"))
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range []State{StateStopped, StateActive, StateError} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}
	var bad State
	assert.Error(t, bad.UnmarshalText([]byte("paused")))
}
