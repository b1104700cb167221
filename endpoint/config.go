package endpoint

import (
	"fmt"
	"net"
	"slices"

	"github.com/c360/oscbridge/errors"
	"github.com/c360/oscbridge/store"
)

// Port range accepted for endpoints. Ports below 1024 are privileged on most systems.
const (
	MinPort = 1024
	MaxPort = 65535
)

// DefaultBindHost listens on every interface.
const DefaultBindHost = "0.0.0.0"

// Config describes one UDP endpoint.
type Config struct {
	Port           int      `json:"port" yaml:"port"`
	Capacity       int      `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	AddressFilters []string `json:"addressFilters,omitempty" yaml:"address_filters,omitempty"`
	BindHost       string   `json:"bindHost,omitempty" yaml:"bind_host,omitempty"`
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = store.DefaultCapacity
	}
	if c.BindHost == "" {
		c.BindHost = DefaultBindHost
	}
	c.AddressFilters = slices.Clone(c.AddressFilters)
	return c
}

// Validate checks the configuration after defaults are applied. Failures are
// coded errors so callers can report INVALID_PORT or INVALID_CONFIG.
func (c Config) Validate() error {
	c = c.WithDefaults()

	if c.Port < MinPort || c.Port > MaxPort {
		return errors.NewCoded(errors.CodeInvalidPort,
			fmt.Sprintf("port %d outside %d..%d", c.Port, MinPort, MaxPort),
			errors.ErrInvalidConfig).
			WithRemediation(errors.Remediation{Hint: fmt.Sprintf("use a port between %d and %d", MinPort, MaxPort)})
	}

	if err := store.ValidateCapacity(c.Capacity); err != nil {
		return errors.NewCoded(errors.CodeInvalidConfig,
			fmt.Sprintf("capacity %d outside 1..%d", c.Capacity, store.MaxCapacity), err)
	}

	for i, f := range c.AddressFilters {
		if f == "" {
			return errors.NewCoded(errors.CodeInvalidConfig,
				fmt.Sprintf("address filter %d is empty", i), errors.ErrInvalidConfig)
		}
	}

	if c.BindHost != "localhost" && net.ParseIP(c.BindHost) == nil {
		return errors.NewCoded(errors.CodeInvalidConfig,
			fmt.Sprintf("bind host %q is not an IP address", c.BindHost), errors.ErrInvalidConfig)
	}

	return nil
}
