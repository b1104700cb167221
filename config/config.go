package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/gateway"
	"github.com/c360/oscbridge/output/file"
	"github.com/c360/oscbridge/output/httppost"
	natsout "github.com/c360/oscbridge/output/nats"
	"github.com/c360/oscbridge/output/websocket"
	"github.com/c360/oscbridge/pkg/security"
)

// Config represents the complete daemon configuration
type Config struct {
	// BindHost is the interface every endpoint binds (default: "0.0.0.0")
	BindHost string `json:"bind_host" yaml:"bind_host"`
	// Endpoints are created at startup
	Endpoints []endpoint.Config `json:"endpoints" yaml:"endpoints"`
	HTTP      HTTPConfig        `json:"http"      yaml:"http"`
	Metrics   MetricsConfig     `json:"metrics"   yaml:"metrics"`
	WebSocket WebSocketConfig   `json:"websocket" yaml:"websocket"`
	NATS      NATSConfig        `json:"nats"      yaml:"nats"`
	Webhook   WebhookConfig     `json:"webhook"   yaml:"webhook"`
	Recorder  RecorderConfig    `json:"recorder"  yaml:"recorder"`
	Log       LogConfig         `json:"log"       yaml:"log"`
}

// HTTPConfig configures the operations API server
type HTTPConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port"    yaml:"port"`
	// Prefix is the route prefix for the API (default: "/api/")
	Prefix         string                   `json:"prefix" yaml:"prefix"`
	TLS            security.ServerTLSConfig `json:"tls"    yaml:"tls"`
	gateway.Config `yaml:",inline"`
}

// MetricsConfig configures the Prometheus server
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// WebSocketConfig configures the live stream, mounted on the HTTP server
type WebSocketConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	websocket.Config `yaml:",inline"`
}

// NATSConfig configures the NATS connection and event forwarding
type NATSConfig struct {
	Enabled        bool                     `json:"enabled"                  yaml:"enabled"`
	URL            string                   `json:"url"                      yaml:"url"`
	Name           string                   `json:"name,omitempty"           yaml:"name,omitempty"`
	Username       string                   `json:"username,omitempty"       yaml:"username,omitempty"`
	Password       string                   `json:"password,omitempty"       yaml:"password,omitempty"`
	Token          string                   `json:"token,omitempty"          yaml:"token,omitempty"`
	MaxReconnects  int                      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait  time.Duration            `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	TLS            security.ClientTLSConfig `json:"tls"                      yaml:"tls"`
	natsout.Config `yaml:",inline"`
}

// WebhookConfig configures HTTP POST delivery of message events
type WebhookConfig struct {
	Enabled         bool                     `json:"enabled" yaml:"enabled"`
	TLS             security.ClientTLSConfig `json:"tls"     yaml:"tls"`
	httppost.Config `yaml:",inline"`
}

// RecorderConfig configures recording message events to a file
type RecorderConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	file.Config `yaml:",inline"`
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string `json:"level"  yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		BindHost: "0.0.0.0",
		HTTP: HTTPConfig{
			Enabled: true,
			Port:    8080,
			Prefix:  "/api/",
			Config:  gateway.DefaultConfig(),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Config:  websocket.DefaultConfig(),
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "oscbridge",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Config:        natsout.DefaultConfig(),
		},
		Webhook:  WebhookConfig{Config: httppost.DefaultConfig()},
		Recorder: RecorderConfig{Config: file.DefaultConfig()},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks every section. Disabled sections are not validated.
func (c *Config) Validate() error {
	if c.BindHost == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "bind_host is required")
	}

	ports := make(map[int]string)
	for i, ep := range c.Endpoints {
		if err := ep.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", fmt.Sprintf("endpoints[%d]", i))
		}
		if prev, dup := ports[ep.Port]; dup {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("endpoints[%d]: port %d already used by %s", i, ep.Port, prev))
		}
		ports[ep.Port] = fmt.Sprintf("endpoints[%d]", i)
	}

	if c.HTTP.Enabled {
		if err := validatePort(c.HTTP.Port, "http.port"); err != nil {
			return err
		}
		if !strings.HasPrefix(c.HTTP.Prefix, "/") || !strings.HasSuffix(c.HTTP.Prefix, "/") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"http.prefix must start and end with /")
		}
		if err := c.HTTP.Config.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "http")
		}
		if err := c.HTTP.TLS.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "http.tls")
		}
	}

	if c.Metrics.Enabled {
		if err := validatePort(c.Metrics.Port, "metrics.port"); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"metrics.path must start with /")
		}
		if c.HTTP.Enabled && c.Metrics.Port == c.HTTP.Port {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"metrics.port and http.port must differ")
		}
	}

	if c.WebSocket.Enabled {
		if !c.HTTP.Enabled {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"websocket requires http to be enabled")
		}
		if err := c.WebSocket.Config.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "websocket")
		}
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url is required")
		}
		if err := c.NATS.Config.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "nats")
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "nats.tls")
		}
	}

	if c.Webhook.Enabled {
		if err := c.Webhook.Config.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "webhook")
		}
		if err := c.Webhook.TLS.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "webhook.tls")
		}
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Config.Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "recorder")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"log.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"log.format must be json or text")
	}

	return nil
}

func validatePort(port int, field string) error {
	if port < 1 || port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("%s must be between 1 and 65535", field))
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	// Use JSON marshaling/unmarshaling for deep copy
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// String returns the configuration as JSON with secrets redacted
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	for k := range redacted.Webhook.Headers {
		if strings.EqualFold(k, "Authorization") {
			redacted.Webhook.Headers[k] = "[REDACTED]"
		}
	}

	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{
		config: cfg,
	}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
