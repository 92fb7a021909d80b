package api

import (
	"log/slog"
	"net/http"
	"throttle/internal/models"
	"throttle/internal/ratelimit"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
// Health probes are not traced.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}
}

// SetupRoutes builds the service router. Health and admin routes bypass the
// limiter; everything else passes through it before reaching the built-in
// status endpoint or the upstream proxy.
func SetupRoutes(handlers *Handlers, engine *ratelimit.Engine, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(adminTokenMiddleware(config.Security.AdminToken))
	admin.HandleFunc("/settings", handlers.GetSettings).Methods("GET")
	admin.HandleFunc("/settings", handlers.UpdateSettings).Methods("PUT")
	admin.HandleFunc("/counters/{key}", handlers.GetCounter).Methods("GET")
	admin.HandleFunc("/reload", handlers.ReloadSettings).Methods("POST")
	admin.PathPrefix("/").HandlerFunc(notFoundHandler)

	limited := router.PathPrefix("/").Subrouter()
	limited.Use(ratelimit.Middleware(engine,
		ratelimit.WithGate(ratelimit.JSONRequests(config.RateLimit.PathPrefixes...)),
		ratelimit.WithTrustForwardedHeaders(config.RateLimit.TrustForwardedHeaders),
	))

	if handlers.upstream != nil {
		limited.PathPrefix("/").Handler(handlers.upstream)
	} else {
		limited.HandleFunc("/api/v1/status", handlers.Status).Methods("GET")
	}

	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	return router
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
}

// loggingMiddleware logs each request with its status and latency.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		level := slog.LevelInfo
		if m.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration_ms", m.Duration.Milliseconds(),
			"bytes", m.Written,
			"remote_addr", r.RemoteAddr)
	})
}

// recoveryMiddleware turns a handler panic into a JSON 500.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
