package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	Ports           []int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

// parseFlags parses args (without the program name). Values left unset on
// the command line fall back to OSCBRIDGE_* environment variables; empty
// log settings defer to the config file.
func parseFlags(args []string) (*CLIConfig, *pflag.FlagSet, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)

	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		getEnv("OSCBRIDGE_CONFIG", ""),
		"Path to a YAML or JSON configuration file (env: OSCBRIDGE_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OSCBRIDGE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: OSCBRIDGE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OSCBRIDGE_LOG_FORMAT", ""),
		"Log format: json, text (env: OSCBRIDGE_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("OSCBRIDGE_DEBUG", false),
		"Enable debug logging (env: OSCBRIDGE_DEBUG)")

	fs.IntSliceVarP(&cfg.Ports, "port", "p", nil,
		"Create an endpoint on this UDP port at startup; repeatable")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OSCBRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: OSCBRIDGE_SHUTDOWN_TIMEOUT)")

	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, fs, nil
		}
		return nil, fs, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, fs, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *pflag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - OSC 1.0 UDP receiver with an HTTP operations API

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Listen on the default OSC port with no config file
  %[1]s --port 8000

  # Run with a config file and text logs
  %[1]s --config=/etc/oscbridge/oscbridge.yaml --log-format=text

  # Run with environment variables
  export OSCBRIDGE_CONFIG=/etc/oscbridge/oscbridge.yaml
  export OSCBRIDGE_NATS_URL=nats://localhost:4222
  %[1]s

  # Validate configuration only
  %[1]s --config=oscbridge.yaml --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
