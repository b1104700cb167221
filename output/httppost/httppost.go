// Package httppost provides a webhook output that POSTs received OSC messages to an HTTP endpoint
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/pattern"
	"github.com/c360/oscbridge/pkg/buffer"
	"github.com/c360/oscbridge/pkg/retry"
	"github.com/c360/oscbridge/registry"
)

const (
	sinkName  = "webhook"
	batchSize = 32
)

// Config holds configuration for the webhook output
type Config struct {
	URL         string            `json:"url"            yaml:"url"`
	Headers     map[string]string `json:"headers"        yaml:"headers"`
	Timeout     int               `json:"timeout"        yaml:"timeout"` // seconds
	RetryCount  int               `json:"retry_count"    yaml:"retry_count"`
	ContentType string            `json:"content_type"   yaml:"content_type"`
	QueueSize   int               `json:"queue_size"     yaml:"queue_size"`
	// AddressPattern limits delivery to matching OSC addresses. Empty
	// delivers everything.
	AddressPattern string `json:"address_pattern" yaml:"address_pattern"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"url scheme must be http or https")
	}

	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 300 seconds")
	}

	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}

	if c.QueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"queue_size must not be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the webhook output
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Headers:     make(map[string]string),
		Timeout:     10,
		RetryCount:  3,
		ContentType: "application/json",
		QueueSize:   1024,
	}
}

// Deps holds the output dependencies
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	// HTTPClient overrides the default client built from Config.Timeout
	HTTPClient *http.Client
	// TLSConfig is used by the default client for https URLs
	TLSConfig *tls.Config
}

// Output POSTs message events to a webhook. It implements registry.Subscriber;
// OnMessage only enqueues, and a single worker delivers in arrival order.
// When the queue is full the oldest pending event is dropped.
type Output struct {
	config     Config
	retry      retry.Config
	httpClient *http.Client
	logger     *slog.Logger
	core       *metric.Metrics
	queue      buffer.Buffer[[]byte]
	filter     *pattern.Pattern // nil delivers everything

	// Lifecycle management
	wake        chan struct{}
	cancel      context.CancelFunc
	running     bool
	stopped     bool
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Metrics
	messagesSent    atomic.Int64
	messagesRetried atomic.Int64
	messagesDropped atomic.Int64
	errors          atomic.Int64
	lastActivity    atomic.Int64
}

var _ registry.Subscriber = (*Output)(nil)

// NewOutput creates a new webhook output from configuration
func NewOutput(cfg Config, deps Deps) (*Output, error) {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
		if deps.TLSConfig != nil {
			transport := http.DefaultTransport.(*http.Transport).Clone()
			transport.TLSClientConfig = deps.TLSConfig
			httpClient.Transport = transport
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Output{
		config: cfg,
		retry: retry.Config{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
		httpClient: httpClient,
		logger:     logger.With("component", "webhook-output", "url", cfg.URL),
		core:       deps.MetricsRegistry.CoreMetrics(),
		wake:       make(chan struct{}, 1),
	}
	if cfg.AddressPattern != "" {
		h.filter = pattern.Compile(cfg.AddressPattern)
	}

	queue, err := buffer.NewCircularBuffer[[]byte](cfg.QueueSize,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			h.messagesDropped.Add(1)
			h.core.RecordForwarded(sinkName, false)
		}),
	)
	if err != nil {
		return nil, errors.WrapFatal(err, "Output", "NewOutput", "create delivery queue")
	}
	h.queue = queue

	return h, nil
}

// Start launches the delivery worker
func (h *Output) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}
	if h.stopped {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Output", "Start", "queue closed by Stop")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true

	h.wg.Add(1)
	go h.worker(workerCtx)

	h.logger.Info("Webhook output started")
	return nil
}

// Stop cancels in-flight deliveries and waits for the worker to exit.
// Events still queued are discarded.
func (h *Output) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.running {
		return nil
	}

	h.cancel()
	_ = h.queue.Close()

	waitCh := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "shutdown")
	}

	h.running = false
	h.stopped = true
	return nil
}

// OnMessage implements registry.Subscriber
func (h *Output) OnMessage(ev endpoint.MessageEvent) {
	if ev.Message == nil {
		return
	}
	if h.filter != nil && !h.filter.Match(ev.Message.Address) {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.errors.Add(1)
		return
	}
	if err := h.queue.Write(data); err != nil {
		// Closed queue: the output is stopping
		return
	}
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// OnError implements registry.Subscriber. Errors are not delivered.
func (h *Output) OnError(endpoint.ErrorEvent) {}

// OnStateChange implements registry.Subscriber. State changes are not delivered.
func (h *Output) OnStateChange(endpoint.StateEvent) {}

func (h *Output) worker(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
			for {
				batch := h.queue.ReadBatch(batchSize)
				if len(batch) == 0 {
					break
				}
				for _, data := range batch {
					if ctx.Err() != nil {
						return
					}
					h.deliver(ctx, data)
				}
			}
		}
	}
}

// deliver sends one event with retries
func (h *Output) deliver(ctx context.Context, data []byte) {
	h.lastActivity.Store(time.Now().UnixNano())

	attempts := 0
	err := retry.Do(ctx, h.retry, func() error {
		attempts++
		if attempts > 1 {
			h.messagesRetried.Add(1)
		}
		return h.sendHTTPPost(ctx, data)
	})
	if err != nil {
		h.errors.Add(1)
		h.core.RecordForwarded(sinkName, false)
		h.logger.Debug("Webhook delivery failed", "attempts", attempts, "error", err)
		return
	}

	h.messagesSent.Add(1)
	h.core.RecordForwarded(sinkName, true)
}

// sendHTTPPost sends a single HTTP POST request. Client errors other than
// 408 and 429 are not retried.
func (h *Output) sendHTTPPost(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(data))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", h.config.ContentType)
	for key, value := range h.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return retry.NonRetryable(statusErr)
	}
	return statusErr
}

// Stats reports delivery counters
type Stats struct {
	Sent         int64      `json:"sent"`
	Retried      int64      `json:"retried"`
	Dropped      int64      `json:"dropped"`
	Errors       int64      `json:"errors"`
	Pending      int        `json:"pending"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// Stats returns a snapshot of the delivery counters
func (h *Output) Stats() Stats {
	s := Stats{
		Sent:    h.messagesSent.Load(),
		Retried: h.messagesRetried.Load(),
		Dropped: h.messagesDropped.Load(),
		Errors:  h.errors.Load(),
		Pending: h.queue.Size(),
	}
	if ns := h.lastActivity.Load(); ns != 0 {
		t := time.Unix(0, ns)
		s.LastActivity = &t
	}
	return s
}
