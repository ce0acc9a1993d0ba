package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/playground/codestore"
	"github.com/isdmx/playground/config"
	"github.com/isdmx/playground/logger"
	"github.com/isdmx/playground/mcpserver"
	"github.com/isdmx/playground/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Metrics registry shared by the sandbox and the /metrics endpoint
			newRegistry,

			// Code store and problem catalog
			newStore,
			newCatalog,

			// Sandbox manager based on config
			newSandbox,

			// MCP Server
			newServer,
		),

		fx.Invoke(registerMetricsServer),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, server *mcpserver.MCPServer, log *zap.Logger) {
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						switch cfg.Server.Transport {
						case "stdio":
							go func() {
								if err := server.ServeStdio(); err != nil {
									log.Error("stdio transport stopped", zap.Error(err))
								}
							}()
						case "http":
							go func() {
								if err := server.ServeHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
									log.Error("http transport stopped", zap.Error(err))
								}
							}()
						default:
							return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
						}
						return nil
					},
					OnStop: server.Shutdown,
				})
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newRegistry() (*prometheus.Registry, prometheus.Registerer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, reg
}

func newStore(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) *codestore.Store {
	store := codestore.NewFromConfig(log, cfg)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store
}

func newCatalog(log *zap.Logger, cfg *config.Config) (*codestore.Catalog, error) {
	catalog, err := codestore.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load problem catalog: %w", err)
	}
	log.Info("problem catalog loaded", zap.Int("problems", len(catalog.Problems())))
	return catalog, nil
}

func newSandbox(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, reg prometheus.Registerer) (*sandbox.Sandbox, error) {
	sb, err := sandbox.NewFromConfig(log, cfg, reg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: sb.Close,
	})
	return sb, nil
}

func newServer(cfg *config.Config, log *zap.Logger, sb *sandbox.Sandbox, store *codestore.Store, catalog *codestore.Catalog) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, sb, store, catalog)
}

func registerMetricsServer(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, reg *prometheus.Registry) {
	if !cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics server", zap.Int("port", cfg.Metrics.Port))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
