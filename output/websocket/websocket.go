package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/pattern"
	"github.com/c360/oscbridge/pkg/buffer"
	"github.com/c360/oscbridge/registry"
)

// Envelope types.
const (
	TypeWelcome    = "welcome"
	TypeMessage    = "message"
	TypeError      = "error"
	TypeState      = "state"
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
)

const (
	sinkName  = "websocket"
	batchSize = 32
	readLimit = 64 * 1024
)

// Config controls the stream endpoint.
type Config struct {
	// Path is the route the stream is mounted on (default: "/ws")
	Path string `json:"path" yaml:"path"`
	// QueueSize bounds each client's send queue; the oldest envelope is
	// dropped when a slow client falls behind (default: 256)
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	// WriteTimeout bounds a single write (default: 5s)
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	// PingInterval between keepalive pings (default: 30s). Clients that miss
	// two pings are disconnected.
	PingInterval time.Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
	// AllowedOrigins for browser clients. Empty keeps the same-origin check.
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
}

// DefaultConfig returns the default stream configuration
func DefaultConfig() Config {
	return Config{
		Path:         "/ws",
		QueueSize:    256,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path must start with /")
	}
	if c.QueueSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "queue_size must be positive")
	}
	if c.WriteTimeout < 0 || c.PingInterval < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeouts cannot be negative")
	}
	return nil
}

// MessageEnvelope wraps every frame sent on the stream
type MessageEnvelope struct {
	Type      string          `json:"type"`              // Message type
	ID        string          `json:"id"`                // Unique message ID
	Timestamp int64           `json:"timestamp"`         // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"` // Event payload
}

// Filter narrows what a client receives. EndpointID applies to every event;
// AddressPattern applies to message events only.
type Filter struct {
	EndpointID     string `json:"endpointId,omitempty"`
	AddressPattern string `json:"addressPattern,omitempty"`
}

func (f *Filter) matches(endpointID, address string, isMessage bool) bool {
	if f.EndpointID != "" && f.EndpointID != endpointID {
		return false
	}
	if isMessage && f.AddressPattern != "" && !pattern.Match(address, f.AddressPattern) {
		return false
	}
	return true
}

// client holds one connection and its send queue. Only writeLoop writes
// data frames, so no write mutex is needed; pings go through WriteControl.
type client struct {
	id          string
	conn        *websocket.Conn
	queue       buffer.Buffer[[]byte]
	wake        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	filter      atomic.Pointer[Filter]
	connectedAt time.Time
}

func (c *client) enqueue(data []byte) {
	if err := c.queue.Write(data); err != nil {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Deps holds the stream dependencies
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Output pushes endpoint events to WebSocket clients. It implements
// registry.Subscriber; callbacks only enqueue and never block on a client.
type Output struct {
	config   Config
	logger   *slog.Logger
	core     *metric.Metrics
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
	closed    bool

	wg sync.WaitGroup

	messagesSent    atomic.Uint64
	messagesDropped atomic.Uint64
}

var _ registry.Subscriber = (*Output)(nil)

// NewOutput creates a stream output
func NewOutput(cfg Config, deps Deps) (*Output, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Output{
		config:  cfg,
		logger:  logger.With("component", "websocket-output"),
		core:    deps.MetricsRegistry.CoreMetrics(),
		clients: make(map[*client]struct{}),
	}
	o.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(cfg.AllowedOrigins) > 0 {
		o.upgrader.CheckOrigin = o.checkOrigin
	}
	return o, nil
}

// RegisterHTTPHandlers mounts the stream at prefix + Path
func (o *Output) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	path := strings.TrimSuffix(prefix, "/") + o.config.Path
	mux.Handle("GET "+path, o)
}

func (o *Output) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range o.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection. The initial filter comes from the
// endpointId and addressPattern query parameters.
func (o *Output) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.clientsMu.RLock()
	closed := o.closed
	o.clientsMu.RUnlock()
	if closed {
		http.Error(w, "stream is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		o.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	c.queue, err = buffer.NewCircularBuffer[[]byte](o.config.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			o.messagesDropped.Add(1)
			o.core.RecordForwarded(sinkName, false)
		}),
	)
	if err != nil {
		o.logger.Error("Failed to create client queue", "error", err)
		_ = conn.Close()
		return
	}

	q := r.URL.Query()
	filter := &Filter{EndpointID: q.Get("endpointId"), AddressPattern: q.Get("addressPattern")}
	c.filter.Store(filter)

	// Welcome goes first so the client knows it is registered
	c.enqueue(o.envelope(TypeWelcome, map[string]any{"clientId": c.id, "filter": filter}))

	o.clientsMu.Lock()
	if o.closed {
		o.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	o.clients[c] = struct{}{}
	count := len(o.clients)
	o.wg.Add(2)
	o.clientsMu.Unlock()

	o.core.SetStreamClients(count)
	o.logger.Debug("Stream client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go o.readLoop(c)
	go o.writeLoop(c)
}

// OnMessage implements registry.Subscriber
func (o *Output) OnMessage(ev endpoint.MessageEvent) {
	address := ""
	if ev.Message != nil {
		address = ev.Message.Address
	}
	o.broadcast(TypeMessage, ev.EndpointID, address, true, ev)
}

// OnError implements registry.Subscriber
func (o *Output) OnError(ev endpoint.ErrorEvent) {
	o.broadcast(TypeError, ev.EndpointID, "", false, ev)
}

// OnStateChange implements registry.Subscriber
func (o *Output) OnStateChange(ev endpoint.StateEvent) {
	o.broadcast(TypeState, ev.EndpointID, "", false, ev)
}

func (o *Output) broadcast(kind, endpointID, address string, isMessage bool, payload any) {
	o.clientsMu.RLock()
	targets := make([]*client, 0, len(o.clients))
	for c := range o.clients {
		if c.filter.Load().matches(endpointID, address, isMessage) {
			targets = append(targets, c)
		}
	}
	o.clientsMu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data := o.envelope(kind, payload)
	if data == nil {
		return
	}
	for _, c := range targets {
		c.enqueue(data)
	}
}

func (o *Output) envelope(kind string, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("Failed to marshal stream payload", "type", kind, "error", err)
		return nil
	}
	data, err := json.Marshal(MessageEnvelope{
		Type:      kind,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
	if err != nil {
		o.logger.Error("Failed to marshal stream envelope", "type", kind, "error", err)
		return nil
	}
	return data
}

// readLoop handles subscribe requests and keepalive pongs
func (o *Output) readLoop(c *client) {
	defer o.wg.Done()
	defer o.removeClient(c)

	pongWait := 2 * o.config.PingInterval
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env MessageEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != TypeSubscribe {
			continue
		}

		var f Filter
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &f); err != nil {
				continue
			}
		}
		c.filter.Store(&f)
		c.enqueue(o.envelope(TypeSubscribed, f))
	}
}

// writeLoop drains the client queue in batches and pings on an interval
func (o *Output) writeLoop(c *client) {
	defer o.wg.Done()
	defer o.removeClient(c)

	ticker := time.NewTicker(o.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(o.config.WriteTimeout)); err != nil {
				return
			}
		case <-c.wake:
			for {
				batch := c.queue.ReadBatch(batchSize)
				if len(batch) == 0 {
					break
				}
				for _, data := range batch {
					_ = c.conn.SetWriteDeadline(time.Now().Add(o.config.WriteTimeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						o.logger.Debug("Stream write failed", "client_id", c.id, "error", err)
						return
					}
					o.messagesSent.Add(1)
					o.core.RecordForwarded(sinkName, true)
				}
			}
		}
	}
}

// removeClient tears a client down exactly once
func (o *Output) removeClient(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.queue.Close()

		o.clientsMu.Lock()
		delete(o.clients, c)
		count := len(o.clients)
		o.clientsMu.Unlock()

		o.core.SetStreamClients(count)
		_ = c.conn.Close()
		o.logger.Debug("Stream client disconnected", "client_id", c.id,
			"connected_for", time.Since(c.connectedAt))
	})
}

// ClientCount returns the number of connected clients
func (o *Output) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// Stats returns sent and dropped envelope counts
func (o *Output) Stats() (sent, dropped uint64) {
	return o.messagesSent.Load(), o.messagesDropped.Load()
}

// Close disconnects every client and rejects new ones
func (o *Output) Close(ctx context.Context) error {
	o.clientsMu.Lock()
	o.closed = true
	clients := make([]*client, 0, len(o.clients))
	for c := range o.clients {
		clients = append(clients, c)
	}
	o.clientsMu.Unlock()

	deadline := time.Now().Add(o.config.WriteTimeout)
	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		o.removeClient(c)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Output", "Close", "waiting for stream clients")
	}
}
