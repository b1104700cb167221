package gateway

import (
	"fmt"
	"time"

	"github.com/c360/oscbridge/errors"
)

// Config holds configuration for gateway components
type Config struct {
	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors" yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty" yaml:"max_request_size,omitempty"`

	// RateLimit is the sustained requests per second allowed across all
	// clients. Zero disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// Burst is the token bucket size used with RateLimit (default: 2x RateLimit, min 1)
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`

	// TimeoutStr bounds each operation (default: "5s")
	TimeoutStr string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	timeout time.Duration
}

// Validate ensures the gateway configuration is valid and fills defaults
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}

	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1024 * 1024 // 1MB default
	}

	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	// CORS requires explicit origin configuration
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit cannot be negative")
	}
	if c.Burst < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"burst cannot be negative")
	}
	if c.RateLimit > 0 && c.Burst == 0 {
		c.Burst = max(int(c.RateLimit*2), 1)
	}

	if c.TimeoutStr == "" {
		c.timeout = 5 * time.Second
	} else {
		parsed, err := time.ParseDuration(c.TimeoutStr)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("invalid timeout format: %s", c.TimeoutStr))
		}
		c.timeout = parsed
	}

	// Validate timeout range (100ms to 30s)
	if c.timeout < 100*time.Millisecond || c.timeout > 30*time.Second {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 100ms and 30s")
	}

	return nil
}

// Timeout returns the parsed timeout duration. Valid after Validate.
func (c *Config) Timeout() time.Duration {
	if c.timeout == 0 {
		return 5 * time.Second
	}
	return c.timeout
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		EnableCORS:     false, // Disabled by default (requires explicit configuration)
		CORSOrigins:    []string{},
		MaxRequestSize: 1024 * 1024, // 1MB
		TimeoutStr:     "5s",
	}
}
