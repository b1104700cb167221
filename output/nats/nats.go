// Package nats forwards endpoint events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/registry"
)

const sinkName = "nats"

// Publisher is the subset of natsclient.Client the forwarder needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config controls subject layout and which events are forwarded
type Config struct {
	// SubjectPrefix is the first subject token (default: "osc")
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
	// IncludeAddress appends the OSC address as subject tokens, so
	// /synth/freq on endpoint-1 publishes to osc.endpoint-1.synth.freq
	IncludeAddress bool `json:"include_address" yaml:"include_address"`
	// ForwardErrors publishes error events to <prefix>.<endpoint>.error
	ForwardErrors bool `json:"forward_errors" yaml:"forward_errors"`
	// ForwardState publishes state events to <prefix>.<endpoint>.state
	ForwardState bool `json:"forward_state" yaml:"forward_state"`
}

// DefaultConfig returns the default forwarding configuration
func DefaultConfig() Config {
	return Config{SubjectPrefix: "osc"}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "subject_prefix is required")
	}
	if strings.ContainsAny(c.SubjectPrefix, "*> \t") || strings.HasPrefix(c.SubjectPrefix, ".") ||
		strings.HasSuffix(c.SubjectPrefix, ".") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"subject_prefix must be a literal subject")
	}
	return nil
}

// Deps holds the forwarder dependencies
type Deps struct {
	Publisher       Publisher
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Forwarder publishes endpoint events as JSON. It implements
// registry.Subscriber. Publish failures are counted and logged, never
// retried: live OSC data is stale by the time a retry would land.
type Forwarder struct {
	config    Config
	publisher Publisher
	logger    *slog.Logger
	core      *metric.Metrics

	published atomic.Uint64
	failed    atomic.Uint64
}

var _ registry.Subscriber = (*Forwarder)(nil)

// NewForwarder creates a forwarder
func NewForwarder(cfg Config, deps Deps) (*Forwarder, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultConfig().SubjectPrefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Forwarder", "NewForwarder", "publisher is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Forwarder{
		config:    cfg,
		publisher: deps.Publisher,
		logger:    logger.With("component", "nats-output"),
		core:      deps.MetricsRegistry.CoreMetrics(),
	}, nil
}

// OnMessage implements registry.Subscriber
func (f *Forwarder) OnMessage(ev endpoint.MessageEvent) {
	subject := f.config.SubjectPrefix + "." + subjectToken(ev.EndpointID)
	if f.config.IncludeAddress && ev.Message != nil {
		subject += addressTokens(ev.Message.Address)
	}
	f.publish(subject, ev)
}

// OnError implements registry.Subscriber
func (f *Forwarder) OnError(ev endpoint.ErrorEvent) {
	if !f.config.ForwardErrors {
		return
	}
	f.publish(f.config.SubjectPrefix+"."+subjectToken(ev.EndpointID)+".error", ev)
}

// OnStateChange implements registry.Subscriber
func (f *Forwarder) OnStateChange(ev endpoint.StateEvent) {
	if !f.config.ForwardState {
		return
	}
	f.publish(f.config.SubjectPrefix+"."+subjectToken(ev.EndpointID)+".state", ev)
}

func (f *Forwarder) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err == nil {
		err = f.publisher.Publish(context.Background(), subject, data)
	}
	if err != nil {
		f.failed.Add(1)
		f.core.RecordForwarded(sinkName, false)
		f.logger.Debug("Publish failed", "subject", subject, "error", err)
		return
	}
	f.published.Add(1)
	f.core.RecordForwarded(sinkName, true)
}

// Stats returns published and failed counts
func (f *Forwarder) Stats() (published, failed uint64) {
	return f.published.Load(), f.failed.Load()
}

// subjectToken makes s safe as a single subject token
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// addressTokens turns "/synth/freq" into ".synth.freq"
func addressTokens(address string) string {
	parts := strings.Split(strings.TrimPrefix(address, "/"), "/")
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('.')
		b.WriteString(subjectToken(p))
	}
	return b.String()
}
