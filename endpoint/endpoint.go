// Package endpoint owns one UDP socket and the message store it feeds.
package endpoint

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/osc"
	"github.com/c360/oscbridge/pkg/retry"
	"github.com/c360/oscbridge/store"
)

const (
	// socketBufferSize is the requested OS receive buffer.
	socketBufferSize = 2 * 1024 * 1024
	// maxDatagramSize covers any UDP payload.
	maxDatagramSize = 65536

	defaultEventBuffer = 256
)

// Deps holds the dependencies of an Endpoint.
type Deps struct {
	ID              string
	Config          Config
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	// EventBuffer sizes the message channel; error and state channels are
	// a quarter of it. Zero uses the default.
	EventBuffer int
	// RetryConfig overrides the bind retry policy.
	RetryConfig *retry.Config
}

// Info is a point-in-time snapshot of an endpoint.
type Info struct {
	ID             string     `json:"id"`
	Port           int        `json:"port"`
	BindHost       string     `json:"bindHost"`
	State          State      `json:"state"`
	CreatedAt      time.Time  `json:"createdAt"`
	TotalReceived  int64      `json:"totalReceived"`
	MessageCount   int        `json:"messageCount"`
	Capacity       int        `json:"capacity"`
	AddressFilters []string   `json:"addressFilters"`
	DecodeErrors   int64      `json:"decodeErrors"`
	SocketErrors   int64      `json:"socketErrors"`
	DroppedEvents  int64      `json:"droppedEvents"`
	LastActivity   *time.Time `json:"lastActivity,omitempty"`
}

// Endpoint listens on one UDP port, decodes every datagram and stores the
// accepted messages. Datagrams are processed in arrival order by a single
// goroutine.
type Endpoint struct {
	id       string
	cfg      Config
	logger   *slog.Logger
	store    *store.Store
	registry *metric.MetricsRegistry
	core     *metric.Metrics
	metrics  *endpointMetrics

	retryConfig retry.Config
	createdAt   time.Time

	mu       sync.Mutex
	state    State
	conn     *net.UDPConn
	done     chan struct{}
	stopping atomic.Bool

	totalReceived atomic.Int64
	decodeErrors  atomic.Int64
	socketErrors  atomic.Int64
	droppedEvents atomic.Int64
	lastActivity  atomic.Int64 // unix nanos, 0 = never

	messages chan MessageEvent
	errs     chan ErrorEvent
	states   chan StateEvent
}

// New creates a stopped endpoint. The configuration is validated and the
// store is allocated; no socket is opened until Start.
func New(deps Deps) (*Endpoint, error) {
	if deps.ID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty endpoint id"), "Endpoint", "New", "id validation")
	}
	if err := deps.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config.WithDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "endpoint", "endpoint_id", deps.ID, "port", cfg.Port)

	var storeOpts []store.Option
	if deps.MetricsRegistry != nil {
		storeOpts = append(storeOpts, store.WithMetrics(deps.MetricsRegistry, deps.ID))
	}
	st, err := store.New(cfg.Capacity, cfg.AddressFilters, storeOpts...)
	if err != nil {
		return nil, errors.NewCoded(errors.CodeInvalidConfig, "create message store", err)
	}

	metrics, err := newEndpointMetrics(deps.MetricsRegistry, deps.ID)
	if err != nil {
		deps.MetricsRegistry.UnregisterService(deps.ID)
		return nil, errors.WrapTransient(err, "Endpoint", "New", "metrics registration")
	}

	eventBuffer := deps.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	retryConfig := retry.BindConfig()
	if deps.RetryConfig != nil {
		retryConfig = *deps.RetryConfig
	}

	return &Endpoint{
		id:          deps.ID,
		cfg:         cfg,
		logger:      logger,
		store:       st,
		registry:    deps.MetricsRegistry,
		core:        deps.MetricsRegistry.CoreMetrics(),
		metrics:     metrics,
		retryConfig: retryConfig,
		createdAt:   time.Now(),
		state:       StateStopped,
		messages:    make(chan MessageEvent, eventBuffer),
		errs:        make(chan ErrorEvent, max(eventBuffer/4, 1)),
		states:      make(chan StateEvent, max(eventBuffer/4, 1)),
	}, nil
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string { return e.id }

// Port returns the configured UDP port.
func (e *Endpoint) Port() int { return e.cfg.Port }

// Config returns the effective configuration.
func (e *Endpoint) Config() Config { return e.cfg.WithDefaults() }

// Store returns the message store owned by the endpoint.
func (e *Endpoint) Store() *store.Store { return e.store }

// TotalReceived returns the number of messages accepted into the store since
// creation. It never decreases.
func (e *Endpoint) TotalReceived() int64 { return e.totalReceived.Load() }

// State returns the current lifecycle state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Messages delivers accepted messages.
func (e *Endpoint) Messages() <-chan MessageEvent { return e.messages }

// Errors delivers decode failures and socket faults.
func (e *Endpoint) Errors() <-chan ErrorEvent { return e.errs }

// StateChanges delivers lifecycle transitions.
func (e *Endpoint) StateChanges() <-chan StateEvent { return e.states }

// LocalAddr returns the bound socket address, or nil when not active.
func (e *Endpoint) LocalAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Start binds the socket and begins reading. Starting an active endpoint
// fails with ALREADY_ACTIVE without touching the socket. A bind failure moves
// the endpoint to StateError, emits one socket error event and returns the
// classified error.
//
// ctx bounds the bind only; the read loop runs until Stop or a socket fault.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateActive {
		return errors.NewCoded(errors.CodeAlreadyActive,
			fmt.Sprintf("endpoint %s is already active on port %d", e.id, e.cfg.Port), errors.ErrAlreadyStarted)
	}

	// A faulted endpoint may still hold a socket reference.
	e.closeConnLocked()

	var conn *net.UDPConn
	err := retry.Do(ctx, e.retryConfig, func() error {
		c, err := e.bindSocket()
		if err != nil {
			coded := ClassifyBindError(err, e.cfg.Port)
			if coded.Code != errors.CodeNetworkError {
				return retry.NonRetryable(coded)
			}
			return coded
		}
		conn = c
		return nil
	})
	if err != nil {
		var coded *errors.CodedError
		if !stderrors.As(err, &coded) {
			coded = errors.NewCoded(errors.CodeNetworkError,
				fmt.Sprintf("bind port %d", e.cfg.Port), err)
		}
		if conn != nil {
			_ = conn.Close()
		}

		e.logger.Error("Failed to bind UDP socket", "code", coded.Code, "error", err)
		e.setStateLocked(StateError)
		e.recordSocketError(coded, err)
		return coded
	}

	e.conn = conn
	e.done = make(chan struct{})
	e.stopping.Store(false)
	e.setStateLocked(StateActive)

	go e.readLoop(conn, e.done)

	e.logger.Info("Endpoint started", "bind_host", e.cfg.BindHost, "local_addr", conn.LocalAddr().String())
	return nil
}

// bindSocket creates and binds the UDP socket.
func (e *Endpoint) bindSocket() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(e.cfg.BindHost, strconv.Itoa(e.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve UDP address %s:%d: %w", e.cfg.BindHost, e.cfg.Port, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	// Some systems cap the buffer size; a smaller buffer only risks drops under load.
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		e.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
	}

	return conn, nil
}

// Stop closes the socket and waits for the read loop to exit or ctx to end.
// Stopping a stopped endpoint is a no-op; stopping a faulted endpoint releases
// any socket it still references and moves it to Stopped.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateStopped:
		e.mu.Unlock()
		return nil
	case StateError:
		e.closeConnLocked()
		e.setStateLocked(StateStopped)
		e.mu.Unlock()
		e.logger.Info("Faulted endpoint stopped")
		return nil
	}

	e.stopping.Store(true)
	e.closeConnLocked()
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Endpoint", "Stop", "wait for read loop")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateActive {
		e.setStateLocked(StateStopped)
	}
	e.logger.Info("Endpoint stopped", "total_received", e.totalReceived.Load())
	return nil
}

// Close stops the endpoint and releases its metrics. The endpoint must not be
// used afterwards.
func (e *Endpoint) Close(ctx context.Context) error {
	err := e.Stop(ctx)
	if e.registry != nil {
		e.registry.UnregisterService(e.id)
	}
	e.core.ForgetEndpoint(e.id, strconv.Itoa(e.cfg.Port))
	return err
}

func (e *Endpoint) closeConnLocked() {
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
}

// readLoop reads datagrams until the socket is closed.
func (e *Endpoint) readLoop(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if e.stopping.Load() {
				return
			}
			e.fault(conn, err)
			return
		}
		e.handleDatagram(buf[:n], addr)
	}
}

func (e *Endpoint) handleDatagram(data []byte, addr *net.UDPAddr) {
	now := time.Now()
	e.lastActivity.Store(now.UnixNano())
	if e.metrics != nil {
		e.metrics.packetsReceived.Inc()
		e.metrics.bytesReceived.Add(float64(len(data)))
		e.metrics.lastActivity.Set(float64(now.Unix()))
	}

	var source string
	var sourcePort int
	if addr != nil {
		source = addr.IP.String()
		sourcePort = addr.Port
	}

	msg, err := osc.DecodeAt(data, source, sourcePort, now)
	if err != nil {
		e.decodeErrors.Add(1)
		reason := "invalid"
		var de *osc.DecodeError
		if stderrors.As(err, &de) {
			reason = string(de.Reason)
		}
		e.logger.Debug("Dropped malformed datagram", "source", source, "bytes", len(data), "reason", reason)
		e.core.RecordDecodeError(e.id, reason)
		e.emitError(ErrorEvent{
			EndpointID: e.id,
			Kind:       ErrorKindDecode,
			Code:       errors.CodeInvalidOSCMessage,
			Reason:     reason,
			Err:        err,
			At:         now,
		})
		return
	}

	// Counted under the store lock so a snapshot never shows more stored
	// messages than received ones.
	if !e.store.AddFunc(msg, func() { e.totalReceived.Add(1) }) {
		e.core.RecordMessageFiltered(e.id)
		return
	}

	e.core.RecordMessageReceived(e.id, e.store.Count())
	e.emitMessage(MessageEvent{EndpointID: e.id, Message: msg})
}

// fault handles a read error that was not caused by Stop.
func (e *Endpoint) fault(conn *net.UDPConn, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive || e.conn != conn || e.stopping.Load() {
		return
	}

	coded := ClassifyBindError(err, e.cfg.Port)
	e.logger.Error("UDP socket fault", "code", coded.Code, "error", err)

	e.closeConnLocked()
	e.setStateLocked(StateError)
	e.recordSocketError(coded, err)
}

func (e *Endpoint) recordSocketError(coded *errors.CodedError, err error) {
	e.socketErrors.Add(1)
	e.core.RecordSocketError(e.id, string(coded.Code))
	e.emitError(ErrorEvent{
		EndpointID:     e.id,
		Kind:           ErrorKindSocket,
		Code:           coded.Code,
		Reason:         coded.Message,
		Err:            err,
		SuggestedPorts: coded.Remediation.SuggestedPorts,
		At:             time.Now(),
	})
}

// setStateLocked records a transition. Caller holds e.mu.
func (e *Endpoint) setStateLocked(to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	e.core.RecordEndpointState(e.id, strconv.Itoa(e.cfg.Port), int(to))
	e.emitState(StateEvent{EndpointID: e.id, From: from, To: to, At: time.Now()})
}

func (e *Endpoint) emitMessage(ev MessageEvent) {
	select {
	case e.messages <- ev:
	default:
		e.dropped("message")
	}
}

func (e *Endpoint) emitError(ev ErrorEvent) {
	select {
	case e.errs <- ev:
	default:
		e.dropped("error")
	}
}

func (e *Endpoint) emitState(ev StateEvent) {
	select {
	case e.states <- ev:
	default:
		e.dropped("state")
	}
}

func (e *Endpoint) dropped(kind string) {
	e.droppedEvents.Add(1)
	e.core.RecordEventDropped(e.id, kind)
}

// Info returns a snapshot of the endpoint.
func (e *Endpoint) Info() Info {
	// Count is read before the total; see handleDatagram.
	count := e.store.Count()
	info := Info{
		ID:             e.id,
		Port:           e.cfg.Port,
		BindHost:       e.cfg.BindHost,
		State:          e.State(),
		CreatedAt:      e.createdAt,
		TotalReceived:  e.totalReceived.Load(),
		MessageCount:   count,
		Capacity:       e.store.Capacity(),
		AddressFilters: e.store.Filters(),
		DecodeErrors:   e.decodeErrors.Load(),
		SocketErrors:   e.socketErrors.Load(),
		DroppedEvents:  e.droppedEvents.Load(),
	}
	if nanos := e.lastActivity.Load(); nanos != 0 {
		t := time.Unix(0, nanos)
		info.LastActivity = &t
	}
	return info
}
