package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"limitgate/internal/api"
	"limitgate/internal/audit"
	"limitgate/internal/config"
	"limitgate/internal/logger"
	"limitgate/internal/models"
	"limitgate/internal/observability"
	"limitgate/internal/ratelimit"
	"limitgate/internal/version"

	"github.com/redis/go-redis/v9"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the shared counter store
	counterStore, err := initializeCounterStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer counterStore.Close()

	// Wrap the counter store with instrumentation if metrics are enabled
	activeStore := counterStore
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(counterStore)
		if err != nil {
			slog.Error("Failed to create instrumented counter store", "error", err)
			os.Exit(1)
		}
		activeStore = instrumented
	}

	// Build limit policies from defaults plus operator overrides
	policies, err := ratelimit.NewPolicies(cfg.Limiter.TierOverrides)
	if err != nil {
		slog.Error("Failed to build limit policies", "error", err)
		os.Exit(1)
	}

	failClosed, err := parseFailClosedCategories(cfg.Limiter.FailClosedCategories)
	if err != nil {
		slog.Error("Failed to parse fail-closed categories", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(activeStore, policies, cfg.Limiter.KeyPrefix,
		ratelimit.WithLogger(log),
		ratelimit.WithStoreTimeout(cfg.Limiter.StoreTimeout),
		ratelimit.WithFailClosed(failClosed...),
	)

	// Initialize the rejection audit store
	auditStore, err := initializeAuditStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize audit store", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	handlers := api.NewHandlers(limiter, activeStore, auditStore, ver.Version)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeCounterStore connects to the shared Redis counter store. Counters
// must be shared across instances for limits to hold cluster-wide, so there
// is no in-memory fallback here; development setups run a local Redis.
func initializeCounterStore(cfg *models.Config) (ratelimit.Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})

	store, err := ratelimit.NewRedisStore(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

// initializeAuditStore creates a rejection audit backend based on configuration.
func initializeAuditStore(cfg *models.Config) (audit.Store, error) {
	switch cfg.Audit.Type {
	case models.AuditTypeMemory:
		return audit.NewMemoryStore(), nil
	case models.AuditTypeSQLite:
		return audit.NewSQLiteStore(cfg.Audit.DSN)
	case models.AuditTypePostgres:
		return audit.NewPostgresStore(cfg.Audit.DSN)
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Audit.Type)
	}
}

// parseFailClosedCategories validates the configured category names.
func parseFailClosedCategories(names []string) ([]ratelimit.Category, error) {
	categories := make([]ratelimit.Category, 0, len(names))
	for _, name := range names {
		c, err := ratelimit.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, nil
}
