package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/oscbridge/config"
	"github.com/c360/oscbridge/endpoint"
	"github.com/c360/oscbridge/errors"
	httpgateway "github.com/c360/oscbridge/gateway/http"
	"github.com/c360/oscbridge/health"
	"github.com/c360/oscbridge/metric"
	"github.com/c360/oscbridge/natsclient"
	"github.com/c360/oscbridge/output/file"
	"github.com/c360/oscbridge/output/httppost"
	natsout "github.com/c360/oscbridge/output/nats"
	"github.com/c360/oscbridge/output/websocket"
	"github.com/c360/oscbridge/pkg/tlsutil"
	"github.com/c360/oscbridge/registry"
	"github.com/c360/oscbridge/service"
)

// daemon owns every long-running part of the process
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics  *metric.MetricsRegistry
	registry *registry.Registry
	engine   *service.Engine
	health   *health.Monitor

	mux           *http.ServeMux
	httpServer    *http.Server
	metricsServer *metric.Server

	stream     *websocket.Output
	natsClient *natsclient.Client
	webhook    *httppost.Output
	recorder   *file.Output

	unsubscribe []func()

	shutdownOnce sync.Once
	shutdownErr  error
}

// newDaemon builds the registry, the engine and every enabled output. The
// NATS connection is established here so a bad URL fails startup.
func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		health:  health.NewMonitor(),
		mux:     http.NewServeMux(),
	}

	d.registry = registry.New(registry.Deps{
		Logger:          logger,
		MetricsRegistry: d.metrics,
	})

	engine, err := service.NewEngine(service.Deps{
		Registry:        d.registry,
		Logger:          logger,
		MetricsRegistry: d.metrics,
		BindHost:        cfg.BindHost,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	d.engine = engine

	if err := d.setupOutputs(ctx); err != nil {
		d.closeOutputs(ctx)
		return nil, err
	}

	if cfg.HTTP.Enabled {
		gw, err := httpgateway.NewGateway(cfg.HTTP.Config, httpgateway.Deps{
			Operations: engine,
			Logger:     logger,
		})
		if err != nil {
			d.closeOutputs(ctx)
			return nil, fmt.Errorf("create http gateway: %w", err)
		}
		gw.RegisterHTTPHandlers(cfg.HTTP.Prefix, d.mux)
		d.mux.Handle("GET /health", health.Handler(appName, d.health, d.endpointInfos))
		if d.stream != nil {
			d.stream.RegisterHTTPHandlers("/", d.mux)
		}
		tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.HTTP.TLS)
		if err != nil {
			d.closeOutputs(ctx)
			return nil, fmt.Errorf("load http tls: %w", err)
		}
		d.httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           d.mux,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if cfg.Metrics.Enabled {
		d.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, d.metrics)
	}

	return d, nil
}

func (d *daemon) setupOutputs(ctx context.Context) error {
	cfg := d.cfg

	if cfg.WebSocket.Enabled {
		stream, err := websocket.NewOutput(cfg.WebSocket.Config, websocket.Deps{
			Logger:          d.logger,
			MetricsRegistry: d.metrics,
		})
		if err != nil {
			return fmt.Errorf("create websocket output: %w", err)
		}
		d.stream = stream
		d.subscribe(stream)
	}

	if cfg.NATS.Enabled {
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(d.logger),
			natsclient.WithMetrics(d.metrics),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			// Losing NATS only degrades the daemon; intake keeps working
			natsclient.WithHealthChangeCallback(func(healthy bool) {
				if healthy {
					d.health.UpdateHealthy("nats", "Connected")
				} else {
					d.health.UpdateDegraded("nats", "Disconnected, reconnecting")
				}
			}),
		}
		if cfg.NATS.Name != "" {
			opts = append(opts, natsclient.WithName(cfg.NATS.Name))
		}
		if cfg.NATS.ReconnectWait > 0 {
			opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
		}

		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.NATS.TLS)
		if err != nil {
			return fmt.Errorf("load nats tls: %w", err)
		}
		if tlsConfig != nil {
			opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
		}

		client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
		if err != nil {
			return fmt.Errorf("create nats client: %w", err)
		}
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect to nats at %s: %w", cfg.NATS.URL, err)
		}
		d.natsClient = client
		d.health.UpdateHealthy("nats", "Connected")

		forwarder, err := natsout.NewForwarder(cfg.NATS.Config, natsout.Deps{
			Publisher:       client,
			Logger:          d.logger,
			MetricsRegistry: d.metrics,
		})
		if err != nil {
			return fmt.Errorf("create nats forwarder: %w", err)
		}
		d.subscribe(forwarder)
	}

	if cfg.Webhook.Enabled {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.Webhook.TLS)
		if err != nil {
			return fmt.Errorf("load webhook tls: %w", err)
		}
		webhook, err := httppost.NewOutput(cfg.Webhook.Config, httppost.Deps{
			Logger:          d.logger,
			MetricsRegistry: d.metrics,
			TLSConfig:       tlsConfig,
		})
		if err != nil {
			return fmt.Errorf("create webhook output: %w", err)
		}
		// Stop ends delivery, not the signal context
		if err := webhook.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start webhook output: %w", err)
		}
		d.webhook = webhook
		d.subscribe(webhook)
	}

	if cfg.Recorder.Enabled {
		recorder, err := file.NewOutput(cfg.Recorder.Config, file.Deps{
			Logger:          d.logger,
			MetricsRegistry: d.metrics,
		})
		if err != nil {
			return fmt.Errorf("create recorder: %w", err)
		}
		if err := recorder.Start(ctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		d.recorder = recorder
		d.subscribe(recorder)
		d.logger.Info("Recording messages", "path", recorder.Path())
	}

	return nil
}

func (d *daemon) endpointInfos() []endpoint.Info {
	infos, _ := d.registry.Status("")
	return infos
}

func (d *daemon) subscribe(s registry.Subscriber) {
	d.unsubscribe = append(d.unsubscribe, d.registry.Subscribe(s))
}

// startEndpoints creates the configured endpoints. A failed endpoint is
// logged with its remediation and does not stop the daemon.
func (d *daemon) startEndpoints(ctx context.Context) int {
	started := 0
	for _, epCfg := range d.cfg.Endpoints {
		if epCfg.BindHost == "" {
			epCfg.BindHost = d.cfg.BindHost
		}
		res := d.registry.Create(ctx, epCfg)
		if res.Err != nil {
			attrs := []any{"port", epCfg.Port, "code", errors.CodeOf(res.Err), "error", res.Err}
			if rem := errors.RemediationOf(res.Err); !rem.IsZero() {
				attrs = append(attrs, "suggested_ports", rem.SuggestedPorts)
			}
			d.logger.Warn("Endpoint failed to start", attrs...)
			continue
		}
		started++
		d.logger.Info("Endpoint started", "endpoint_id", res.EndpointID, "port", res.Port)
	}
	return started
}

// run starts the endpoints and servers, blocks until ctx is cancelled or a
// server fails, then shuts everything down within timeout.
func (d *daemon) run(ctx context.Context, timeout time.Duration) error {
	d.startEndpoints(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if d.metricsServer != nil {
		g.Go(func() error {
			d.logger.Info("Metrics server listening", "port", d.cfg.Metrics.Port, "path", d.cfg.Metrics.Path)
			return d.metricsServer.Start()
		})
	}
	if d.httpServer != nil {
		g.Go(func() error {
			d.logger.Info("HTTP server listening", "addr", d.httpServer.Addr, "prefix", d.cfg.HTTP.Prefix,
				"tls", d.httpServer.TLSConfig != nil)
			var err error
			if d.httpServer.TLSConfig != nil {
				// Certificates come from TLSConfig
				err = d.httpServer.ListenAndServeTLS("", "")
			} else {
				err = d.httpServer.ListenAndServe()
			}
			if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("Shutting down", "timeout", timeout)
		shutdownCtx, cancel := shutdownContext(timeout)
		defer cancel()
		return d.shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		d.logger.Error("Daemon stopped with error", "error", err)
		return err
	}
	d.logger.Info("Shutdown complete")
	return nil
}

// shutdown stops intake first, then outputs, in dependency order. Only the
// first call does any work.
func (d *daemon) shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		d.shutdownErr = d.stopAll(ctx)
	})
	return d.shutdownErr
}

func (d *daemon) stopAll(ctx context.Context) error {
	var errs []error

	if d.httpServer != nil {
		if err := d.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	if err := d.registry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("registry: %w", err))
	}

	d.closeOutputs(ctx)

	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	return stderrors.Join(errs...)
}

// closeOutputs detaches and stops every output that was set up
func (d *daemon) closeOutputs(ctx context.Context) {
	for _, unsubscribe := range d.unsubscribe {
		unsubscribe()
	}
	d.unsubscribe = nil

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}

	if d.stream != nil {
		if err := d.stream.Close(ctx); err != nil {
			d.logger.Warn("Closing websocket output failed", "error", err)
		}
	}
	if d.webhook != nil {
		if err := d.webhook.Stop(timeout); err != nil {
			d.logger.Warn("Stopping webhook output failed", "error", err)
		}
	}
	if d.recorder != nil {
		if err := d.recorder.Stop(timeout); err != nil {
			d.logger.Warn("Stopping recorder failed", "error", err)
		}
	}
	if d.natsClient != nil {
		if err := d.natsClient.Close(ctx); err != nil {
			d.logger.Warn("Closing nats connection failed", "error", err)
		}
	}
}
