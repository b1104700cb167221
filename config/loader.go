package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/oscbridge/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "OSCBRIDGE"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
		getenv:     os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load starts from Default, applies each layer in order, then environment
// overrides, then validates. A layer only replaces the fields it sets; lists
// such as endpoints are replaced as a whole.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.applyLayer(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (l *Loader) applyLayer(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("read %s", path))
	}

	format, err := configFormat(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("read %s", path))
	}

	switch format {
	case "yaml":
		if err := validateYAMLDepth(data); err != nil {
			return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("parse %s", path))
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("parse %s", path))
		}
	default:
		data, err = normalizeJSON(data)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("parse %s", path))
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("parse %s", path))
		}
	}
	return nil
}

// normalizeJSON checks nesting depth and converts duration strings such as
// "2s" into nanoseconds so they decode into time.Duration fields
func normalizeJSON(data []byte) ([]byte, error) {
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	parseDurations(raw)
	return json.Marshal(raw)
}

// parseDurations converts the duration fields of raw in place
func parseDurations(raw map[string]any) {
	convert := func(section string, keys ...string) {
		m, ok := raw[section].(map[string]any)
		if !ok {
			return
		}
		for _, key := range keys {
			if s, ok := m[key].(string); ok {
				if d, err := time.ParseDuration(s); err == nil {
					m[key] = d.Nanoseconds()
				}
			}
		}
	}
	convert("websocket", "write_timeout", "ping_interval")
	convert("nats", "reconnect_wait")
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}
		return val, nil
	}
	port := func(name string, dst *int) error {
		val, err := lookup(name)
		if err != nil || val == "" {
			return err
		}
		p, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides",
				fmt.Sprintf("%s_%s must be a number", l.envPrefix, name))
		}
		*dst = p
		return nil
	}

	if err := port("HTTP_PORT", &cfg.HTTP.Port); err != nil {
		return err
	}
	if err := port("METRICS_PORT", &cfg.Metrics.Port); err != nil {
		return err
	}

	val, err := lookup("NATS_URL")
	if err != nil {
		return err
	}
	if val != "" {
		// Setting the URL explicitly turns forwarding on
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}

	if val, err = lookup("NATS_TOKEN"); err != nil {
		return err
	} else if val != "" {
		cfg.NATS.Token = val
	}

	if val, err = lookup("BIND_HOST"); err != nil {
		return err
	} else if val != "" {
		cfg.BindHost = val
	}

	if val, err = lookup("LOG_LEVEL"); err != nil {
		return err
	} else if val != "" {
		cfg.Log.Level = val
	}

	return nil
}

// SaveToFile saves the configuration as JSON or YAML by extension
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode config")
	}

	return safeWriteFile(path, data)
}
