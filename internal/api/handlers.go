package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"throttle/internal/models"
	"throttle/internal/ratelimit"
	"throttle/internal/storage"
	"throttle/internal/version"
	"time"

	"github.com/go-playground/validator/v10"
)

const healthPingTimeout = 2 * time.Second

// SettingsStore is the live settings holder the admin API reads and swaps.
type SettingsStore interface {
	Snapshot() models.RateLimitSettings
	Update(models.RateLimitSettings) error
	Reload() (models.RateLimitSettings, error)
}

// Handlers contains the HTTP handlers served next to the limiter.
type Handlers struct {
	store          storage.CounterStore
	settings       SettingsStore
	upstream       http.Handler
	trustForwarded bool
	version        version.Info
	startTime      time.Time
	validate       *validator.Validate
	now            func() time.Time
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithUpstream forwards admitted traffic to h instead of serving the
// built-in status endpoint.
func WithUpstream(h http.Handler) HandlerOption {
	return func(hs *Handlers) {
		hs.upstream = h
	}
}

// WithTrustForwardedHeaders makes Status report the forwarded client address.
func WithTrustForwardedHeaders(trust bool) HandlerOption {
	return func(hs *Handlers) {
		hs.trustForwarded = trust
	}
}

// WithVersion sets the build info reported by the health endpoint.
func WithVersion(ver version.Info) HandlerOption {
	return func(hs *Handlers) {
		hs.version = ver
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.CounterStore, settings SettingsStore, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		store:     store,
		settings:  settings,
		startTime: time.Now(),
		validate:  newValidator(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// newValidator reports failing fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// HealthCheck reports service health. The counter store is pinged; a failed
// ping makes the whole service unhealthy.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "component", "storage", "error", err)
		response.Status = models.StatusUnhealthy
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		status = http.StatusServiceUnavailable
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Counter store is reachable")
	}

	s := h.settings.Snapshot()
	response.AddMetric("rate_limit_enabled", s.Enabled())
	response.AddMetric("rate_limit_limit", s.Limit)
	response.AddMetric("rate_limit_window_seconds", s.WindowSeconds)

	writeJSONResponse(w, status, response)
}

// Status is the built-in limited endpoint used when no upstream is set.
// GET /api/v1/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, &models.StatusResponse{
		Status:    "ok",
		ClientIP:  ratelimit.ClientIP(r, h.trustForwarded),
		Timestamp: h.now().UTC(),
	})
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
