// Package main implements the oscbridge daemon. oscbridge receives OSC 1.0
// messages on UDP endpoints, keeps recent messages per endpoint and exposes
// endpoint management and message queries over HTTP, with optional live
// forwarding to WebSocket clients, NATS, a webhook and a recording file.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/oscbridge/config"
	"github.com/c360/oscbridge/endpoint"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "oscbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	cliCfg, _, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.PrintConfig {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "endpoints", len(cfg.Endpoints))
		return nil
	}

	logger.Info("Starting oscbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	d, err := newDaemon(signalCtx, cfg, logger)
	if err != nil {
		return err
	}

	return d.run(signalCtx, cliCfg.ShutdownTimeout)
}

// loadConfig builds the effective configuration: defaults, the config file,
// environment overrides, then command-line flags
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	loader.EnableValidation(false)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyFlags(cfg, cliCfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags layers command-line values over the loaded configuration.
// Ports already configured as endpoints are not duplicated.
func applyFlags(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	configured := make(map[int]bool, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		configured[ep.Port] = true
	}
	for _, port := range cliCfg.Ports {
		if configured[port] {
			continue
		}
		configured[port] = true
		cfg.Endpoints = append(cfg.Endpoints, endpoint.Config{Port: port})
	}
}

// shutdownContext returns a context bounded by timeout that is independent
// of the already cancelled signal context
func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
