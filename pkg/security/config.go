// Package security holds the TLS settings shared by the HTTP server and the
// outbound NATS and webhook connections.
package security

import (
	"fmt"

	"github.com/c360/oscbridge/errors"
)

// ServerMTLSConfig holds mTLS configuration for servers (client certificate validation)
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"                       yaml:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"     yaml:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty" yaml:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"  yaml:"allowed_client_cns,omitempty"`
}

// ServerTLSConfig holds TLS configuration for the HTTP server
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"               yaml:"enabled"`
	CertFile   string `json:"cert_file,omitempty"   yaml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"    yaml:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	MTLS ServerMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

// ClientMTLSConfig holds mTLS configuration for clients (client certificate provision)
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"             yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"  yaml:"key_file,omitempty"`
}

// ClientTLSConfig holds TLS configuration for outbound connections.
// The system CA bundle is always trusted; CAFiles are added to it.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled"                        yaml:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty"             yaml:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty"          yaml:"min_version,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls,omitempty"`
}

func validateMinVersion(v string) error {
	switch v {
	case "", "1.2", "1.3":
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "security", "Validate",
			fmt.Sprintf("min_version %q must be 1.2 or 1.3", v))
	}
}

// Validate checks the server settings. A disabled config is always valid.
func (c ServerTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ServerTLSConfig", "Validate",
			"cert_file and key_file are required")
	}
	if c.MTLS.Enabled && len(c.MTLS.ClientCAFiles) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ServerTLSConfig", "Validate",
			"mtls requires client_ca_files")
	}
	return validateMinVersion(c.MinVersion)
}

// Validate checks the client settings. A disabled config is always valid.
func (c ClientTLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MTLS.Enabled && (c.MTLS.CertFile == "" || c.MTLS.KeyFile == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ClientTLSConfig", "Validate",
			"mtls requires cert_file and key_file")
	}
	return validateMinVersion(c.MinVersion)
}
