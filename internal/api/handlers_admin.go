package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"throttle/internal/models"
	"throttle/internal/ratelimit"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// maxSettingsBody bounds the PUT /admin/settings payload.
const maxSettingsBody = 4 << 10

// settingsRequest is the PUT /admin/settings payload. Both fields are
// required; zero is accepted and switches limiting off.
type settingsRequest struct {
	Limit         *int `json:"limit" validate:"required,gte=0"`
	WindowSeconds *int `json:"window_seconds" validate:"required,gte=0"`
}

// GetSettings returns the settings currently in effect.
// GET /admin/settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.NewSettingsResponse(h.settings.Snapshot()))
}

// UpdateSettings validates and installs new limit and window values. The
// next decision made by the engine sees them.
// PUT /admin/settings
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.NewValidationErrorResponse(validationErrors(err)))
		return
	}

	settings := models.RateLimitSettings{Limit: *req.Limit, WindowSeconds: *req.WindowSeconds}
	if err := h.settings.Update(settings); err != nil {
		writeErrorResponse(w, http.StatusUnprocessableEntity, models.ErrorCodeValidation, err.Error())
		return
	}

	slog.Info("Rate limit settings changed via admin API",
		"limit", settings.Limit,
		"window_seconds", settings.WindowSeconds,
		"remote_addr", r.RemoteAddr)

	writeJSONResponse(w, http.StatusOK, models.NewSettingsResponse(h.settings.Snapshot()))
}

// GetCounter returns the stored counter for one key.
// GET /admin/counters/{key}
func (h *Handlers) GetCounter(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := ratelimit.ValidateKey(key); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	record, err := h.store.Get(r.Context(), key)
	if err != nil {
		slog.Error("Failed to read counter", "key", key, "error", err)
		writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Counter store unavailable")
		return
	}
	if record == nil {
		writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "No counter stored for key")
		return
	}

	writeJSONResponse(w, http.StatusOK, models.NewCounterResponse(*record, h.settings.Snapshot(), h.now()))
}

// ReloadSettings re-reads the configuration file and installs its rate
// limit section. The current settings stay in place when the file is bad.
// POST /admin/reload
func (h *Handlers) ReloadSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Reload()
	if err != nil {
		slog.Error("Settings reload failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, models.NewSettingsResponse(settings))
}

// validationErrors maps validator failures onto their JSON field names.
func validationErrors(err error) map[string]string {
	out := make(map[string]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["_"] = err.Error()
		return out
	}

	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "gte":
			out[field] = "must be greater than or equal to " + fe.Param()
		default:
			out[field] = "failed " + fe.Tag() + " validation"
		}
	}
	return out
}
