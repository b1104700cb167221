package registry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	gosc "github.com/hypebeast/go-osc/osc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/pkg/retry"
	"github.com/c360/oscbridge/store"
)

func ptr[T any](v T) *T { return &v }

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func newRegistry(t *testing.T, registry *metric.MetricsRegistry) *Registry {
	t.Helper()
	r := New(Deps{MetricsRegistry: registry, RetryConfig: &retry.Config{MaxAttempts: 1}})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func create(t *testing.T, r *Registry, cfg endpoint.Config) CreateResult {
	t.Helper()
	if cfg.BindHost == "" {
		cfg.BindHost = "127.0.0.1"
	}
	return r.Create(context.Background(), cfg)
}

func send(t *testing.T, port int, address string, args ...interface{}) {
	t.Helper()
	require.NoError(t, gosc.NewClient("127.0.0.1", port).Send(gosc.NewMessage(address, args...)))
}

func waitStored(t *testing.T, r *Registry, id string, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		infos, err := r.Status(id)
		return err == nil && infos[0].TotalReceived >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func assertNewestFirst(t *testing.T, msgs []*osc.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].ReceivedAt.After(msgs[i-1].ReceivedAt), "message %d is newer than %d", i, i-1)
	}
}

func TestCreate_AssignsMonotonicIDs(t *testing.T) {
	r := newRegistry(t, nil)

	first := create(t, r, endpoint.Config{Port: freePort(t)})
	require.NoError(t, first.Err)
	assert.Equal(t, "endpoint-1", first.EndpointID)
	assert.Equal(t, endpoint.StateActive, first.State)
	assert.Contains(t, first.Message, "listening")

	second := create(t, r, endpoint.Config{Port: freePort(t)})
	require.NoError(t, second.Err)
	assert.Equal(t, "endpoint-2", second.EndpointID)

	// Ids are never reused after removal
	require.NoError(t, r.Stop(context.Background(), "endpoint-1").Err)
	third := create(t, r, endpoint.Config{Port: freePort(t)})
	require.NoError(t, third.Err)
	assert.Equal(t, "endpoint-3", third.EndpointID)
}

func TestCreate_ValidationFailsBeforeAllocation(t *testing.T) {
	r := newRegistry(t, nil)

	res := create(t, r, endpoint.Config{Port: 80})
	require.Error(t, res.Err)
	assert.Equal(t, errors.CodeInvalidPort, errors.CodeOf(res.Err))
	assert.Empty(t, res.EndpointID)
	assert.Equal(t, 0, r.Len())

	ok := create(t, r, endpoint.Config{Port: freePort(t)})
	assert.Equal(t, "endpoint-1", ok.EndpointID)
}

func TestCreate_PortConflict(t *testing.T) {
	r := newRegistry(t, nil)
	port := freePort(t)

	first := create(t, r, endpoint.Config{Port: port})
	require.NoError(t, first.Err)

	second := create(t, r, endpoint.Config{Port: port})
	require.Error(t, second.Err)
	assert.Equal(t, errors.CodePortConflict, errors.CodeOf(second.Err))
	assert.Contains(t, second.Message, first.EndpointID)
	assert.Equal(t, 1, r.Len())

	// After stopping the owner the port is available again
	require.NoError(t, r.Stop(context.Background(), first.EndpointID).Err)
	third := create(t, r, endpoint.Config{Port: port})
	require.NoError(t, third.Err)
}

func TestCreate_StartFailureConsumesID(t *testing.T) {
	holder, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer holder.Close()
	port := holder.LocalAddr().(*net.UDPAddr).Port

	r := newRegistry(t, nil)
	res := create(t, r, endpoint.Config{Port: port})
	require.Error(t, res.Err)
	assert.Equal(t, "endpoint-1", res.EndpointID)
	assert.Equal(t, endpoint.StateError, res.State)
	assert.Equal(t, errors.CodePortInUse, errors.CodeOf(res.Err))
	assert.NotEmpty(t, errors.RemediationOf(res.Err).SuggestedPorts)
	assert.Equal(t, 0, r.Len())

	next := create(t, r, endpoint.Config{Port: freePort(t)})
	require.NoError(t, next.Err)
	assert.Equal(t, "endpoint-2", next.EndpointID)
}

func TestStop(t *testing.T) {
	r := newRegistry(t, nil)

	missing := r.Stop(context.Background(), "endpoint-42")
	assert.False(t, missing.Found)
	assert.Contains(t, missing.Message, "not found")
	assert.Equal(t, errors.CodeEndpointNotFound, errors.CodeOf(missing.Err))

	res := create(t, r, endpoint.Config{Port: freePort(t)})
	require.NoError(t, res.Err)

	stopped := r.Stop(context.Background(), res.EndpointID)
	require.NoError(t, stopped.Err)
	assert.True(t, stopped.Found)
	assert.Equal(t, 0, r.Len())

	_, err := r.Status(res.EndpointID)
	assert.Equal(t, errors.CodeEndpointNotFound, errors.CodeOf(err))
	_, err = r.Query(res.EndpointID, store.Query{})
	assert.Equal(t, errors.CodeEndpointNotFound, errors.CodeOf(err))
}

func TestStatus_RegistrationOrder(t *testing.T) {
	r := newRegistry(t, nil)
	ports := []int{freePort(t), freePort(t), freePort(t)}
	for _, p := range ports {
		require.NoError(t, create(t, r, endpoint.Config{Port: p, Capacity: 5}).Err)
	}

	infos, err := r.Status("")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	for i, info := range infos {
		assert.Equal(t, fmt.Sprintf("endpoint-%d", i+1), info.ID)
		assert.Equal(t, ports[i], info.Port)
		assert.Equal(t, endpoint.StateActive, info.State)
		assert.Equal(t, 5, info.Capacity)
	}

	one, err := r.Status("endpoint-2")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, ports[1], one[0].Port)

	empty := newRegistry(t, nil)
	none, err := empty.Status("")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// Two endpoints with capacity 2: three messages to the first, one to the second.
func TestQuery_Aggregate(t *testing.T) {
	r := newRegistry(t, nil)
	portA, portB := freePort(t), freePort(t)

	a := create(t, r, endpoint.Config{Port: portA, Capacity: 2})
	require.NoError(t, a.Err)
	b := create(t, r, endpoint.Config{Port: portB, Capacity: 2})
	require.NoError(t, b.Err)

	for i := 0; i < 3; i++ {
		send(t, portA, fmt.Sprintf("/a/%d", i), int32(i))
		waitStored(t, r, a.EndpointID, int64(i+1))
	}
	send(t, portB, "/b/0", int32(0))
	waitStored(t, r, b.EndpointID, 1)

	all, err := r.Query("", store.Query{})
	require.NoError(t, err)
	assert.Len(t, all.Messages, 3)
	assert.Equal(t, 3, all.TotalCount)
	assert.Equal(t, 3, all.FilteredCount)
	assertNewestFirst(t, all.Messages)
	assert.Equal(t, "/b/0", all.Messages[0].Address)

	limited, err := r.Query("", store.Query{Limit: ptr(2)})
	require.NoError(t, err)
	assert.Len(t, limited.Messages, 2)
	assert.Equal(t, 3, limited.TotalCount)
	assert.Equal(t, 2, limited.FilteredCount)

	zero, err := r.Query("", store.Query{Limit: ptr(0)})
	require.NoError(t, err)
	assert.Empty(t, zero.Messages)
	assert.NotNil(t, zero.Messages)

	negative, err := r.Query("", store.Query{Limit: ptr(-1)})
	require.NoError(t, err)
	assert.Len(t, negative.Messages, 3)

	pattern, err := r.Query("", store.Query{Pattern: ptr("/a/*")})
	require.NoError(t, err)
	assert.Len(t, pattern.Messages, 2)
	assert.Equal(t, 3, pattern.TotalCount)

	single, err := r.Query(a.EndpointID, store.Query{Limit: ptr(1)})
	require.NoError(t, err)
	require.Len(t, single.Messages, 1)
	assert.Equal(t, "/a/2", single.Messages[0].Address)
	assert.Equal(t, 2, single.TotalCount)
	assert.Equal(t, 1, single.FilteredCount)

	infos, err := r.Status(a.EndpointID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), infos[0].TotalReceived)
	assert.Equal(t, 2, infos[0].MessageCount)
}

func TestShutdown(t *testing.T) {
	r := newRegistry(t, nil)
	ports := []int{freePort(t), freePort(t), freePort(t)}
	for _, p := range ports {
		require.NoError(t, create(t, r, endpoint.Config{Port: p}).Err)
	}

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, 0, r.Len())

	// Every port was released
	for _, p := range ports {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: p})
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	// Shutting down an empty registry is fine
	require.NoError(t, r.Shutdown(context.Background()))
}

type recordingSubscriber struct {
	mu       sync.Mutex
	messages []endpoint.MessageEvent
	errs     []endpoint.ErrorEvent
	states   []endpoint.StateEvent
}

func (s *recordingSubscriber) OnMessage(ev endpoint.MessageEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, ev)
}

func (s *recordingSubscriber) OnError(ev endpoint.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, ev)
}

func (s *recordingSubscriber) OnStateChange(ev endpoint.StateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, ev)
}

func (s *recordingSubscriber) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), len(s.errs), len(s.states)
}

func TestSubscribe(t *testing.T) {
	r := newRegistry(t, nil)
	sub := &recordingSubscriber{}
	unsubscribe := r.Subscribe(sub)

	// A panicking subscriber does not affect the others
	r.Subscribe(SubscriberFuncs{Message: func(endpoint.MessageEvent) { panic("boom") }})

	port := freePort(t)
	res := create(t, r, endpoint.Config{Port: port})
	require.NoError(t, res.Err)

	send(t, port, "/sub/test", "hello")
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	_, err = conn.Write([]byte("bad"))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		m, e, s := sub.counts()
		return m == 1 && e == 1 && s >= 1
	}, 2*time.Second, 5*time.Millisecond)

	sub.mu.Lock()
	assert.Equal(t, res.EndpointID, sub.messages[0].EndpointID)
	assert.Equal(t, []osc.Argument{osc.String("hello")}, sub.messages[0].Message.Arguments)
	assert.Equal(t, endpoint.ErrorKindDecode, sub.errs[0].Kind)
	assert.Equal(t, endpoint.StateActive, sub.states[0].To)
	sub.mu.Unlock()

	// The final transition is delivered while the pump drains
	require.NoError(t, r.Stop(context.Background(), res.EndpointID).Err)
	require.Eventually(t, func() bool {
		_, _, s := sub.counts()
		return s == 2
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	unsubscribe()
	port2 := freePort(t)
	require.NoError(t, create(t, r, endpoint.Config{Port: port2}).Err)
	send(t, port2, "/after", int32(1))
	time.Sleep(50 * time.Millisecond)
	m, _, _ := sub.counts()
	assert.Equal(t, 1, m)
}

func TestRegistry_ActiveEndpointsMetric(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := newRegistry(t, registry)

	a := create(t, r, endpoint.Config{Port: freePort(t)})
	require.NoError(t, a.Err)
	require.NoError(t, create(t, r, endpoint.Config{Port: freePort(t)}).Err)

	gauge := registry.CoreMetrics().EndpointsActive
	gaugeIs := func(v float64) func() bool {
		return func() bool { return testutil.ToFloat64(gauge) == v }
	}
	require.Eventually(t, gaugeIs(2), time.Second, 5*time.Millisecond)

	r.Stop(context.Background(), a.EndpointID)
	require.Eventually(t, gaugeIs(1), time.Second, 5*time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	require.Eventually(t, gaugeIs(0), time.Second, 5*time.Millisecond)
}
