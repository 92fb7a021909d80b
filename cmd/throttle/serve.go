package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"throttle/internal/api"
	"throttle/internal/config"
	"throttle/internal/logger"
	"throttle/internal/models"
	"throttle/internal/observability"
	"throttle/internal/ratelimit"
	"throttle/internal/storage"
	"throttle/internal/version"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the rate limiting HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ver := version.GetInfo()
			log, closer, err := logger.Setup(cfg.Logging, ver)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			slog.SetDefault(log)

			svc, err := newService(cfg, *configPath, ver)
			if err != nil {
				slog.Error("Failed to initialize service", "error", err)
				return err
			}
			defer svc.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return svc.run(ctx)
		},
	}
}

// service is the wired limiter: store, engine, reaper and HTTP servers.
type service struct {
	cfg        *models.Config
	configPath string

	telemetry *observability.Provider
	store     storage.CounterStore
	live      *config.Live
	engine    *ratelimit.Engine
	reaper    *ratelimit.Reaper
	server    *http.Server
	metrics   *observability.MetricsServer
}

func newService(cfg *models.Config, configPath string, ver version.Info) (*service, error) {
	svc := &service{cfg: cfg, configPath: configPath}

	telemetry, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	svc.telemetry = telemetry

	factory := storage.NewFactory(cfg.RateLimit.MaxRetries, storage.WithRetention(cfg.RateLimit.Retention))
	if err := factory.ValidateConfig(cfg.Storage); err != nil {
		svc.close()
		return nil, err
	}
	backend, err := factory.Create(cfg.Storage)
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.store = backend

	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		instrumented, err := observability.NewInstrumentedStore(backend, cfg.Storage.Type)
		if err != nil {
			svc.close()
			return nil, fmt.Errorf("failed to instrument storage: %w", err)
		}
		svc.store = instrumented
	}

	svc.live = config.NewLive(configPath, cfg.RateLimit.Settings(), config.WithReloadHook(applyLogLevel))

	svc.engine, err = ratelimit.NewEngine(svc.store, svc.live,
		ratelimit.WithFailurePolicy(cfg.RateLimit.FailurePolicy),
		ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout),
	)
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.reaper = ratelimit.NewReaper(svc.store, svc.live, cfg.RateLimit.ReapInterval, cfg.RateLimit.Retention)

	handlerOpts := []api.HandlerOption{
		api.WithVersion(ver),
		api.WithTrustForwardedHeaders(cfg.RateLimit.TrustForwardedHeaders),
	}
	if cfg.Upstream.URL != "" {
		proxy, err := api.NewUpstreamProxy(cfg.Upstream.URL, ver.UserAgent())
		if err != nil {
			svc.close()
			return nil, err
		}
		handlerOpts = append(handlerOpts, api.WithUpstream(proxy))
	}

	var routeOpts []api.RouteOption
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	handlers := api.NewHandlers(svc.store, svc.live, handlerOpts...)
	svc.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port)),
		Handler:      api.SetupRoutes(handlers, svc.engine, cfg, routeOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Metrics.Enabled {
		svc.metrics = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, telemetry)
	}

	return svc, nil
}

// run serves until ctx is cancelled or a server fails, then shuts down.
func (s *service) run(ctx context.Context) error {
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := s.store.Ping(pingCtx); err != nil {
		slog.Warn("Counter store not reachable at startup", "storage", s.cfg.Storage.Type, "error", err)
	}

	s.reaper.Start(ctx)
	defer s.reaper.Stop()

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	errCh := make(chan error, 2)

	if s.metrics != nil {
		go func() {
			if err := s.metrics.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		slog.Info("Starting server",
			"addr", s.server.Addr,
			"storage", s.cfg.Storage.Type,
			"limit", s.cfg.RateLimit.Limit,
			"window_seconds", s.cfg.RateLimit.WindowSeconds,
			"failure_policy", s.cfg.RateLimit.FailurePolicy,
			"upstream", s.cfg.Upstream.URL,
			"tls", s.cfg.Server.TLSEnabled)

		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
loop:
	for {
		select {
		case <-hangup:
			s.reload()
		case err := <-errCh:
			slog.Error("Server failed", "error", err)
			runErr = err
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
	return runErr
}

// reload applies the rate limit section and log level from the config file,
// the same way POST /admin/reload does. Anything else needs a restart.
func (s *service) reload() {
	settings, err := s.live.Reload()
	if err != nil {
		slog.Error("Reload failed", "error", err)
		return
	}
	slog.Info("Configuration reloaded",
		"path", s.configPath,
		"limit", settings.Limit,
		"window_seconds", settings.WindowSeconds,
		"log_level", logger.Level().String())
}

func applyLogLevel(cfg *models.Config) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		slog.Warn("Log level not changed", "error", err)
	}
}

func (s *service) close() {
	if s.store != nil {
		closeQuietly("storage", s.store)
	}
	if s.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.telemetry.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}
}

func closeQuietly(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Failed to close", "component", name, "error", err)
	}
}
