// Package models - API response types and error handling.
// This file defines the outgoing response structures shared by the limiter
// middleware, the admin API and the health endpoint.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes next to human-readable messages
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse provides standardized error information for every endpoint.
//
// Error Categories:
// - Rate limit errors: The caller exceeded its window
// - Validation errors: Input format/constraint violations
// - Authorization errors: Missing or wrong admin token
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error      string            `json:"error"`                 // Error type (always "error")
	Message    string            `json:"message"`               // Human-readable error description
	Code       string            `json:"code,omitempty"`        // Machine-readable error code
	Details    map[string]string `json:"details,omitempty"`     // Field-specific error details
	RetryAfter uint32            `json:"retry_after,omitempty"` // Seconds until the caller may retry
	Timestamp  time.Time         `json:"timestamp"`             // Error occurrence time
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SettingsResponse echoes the rate limit settings currently in effect.
type SettingsResponse struct {
	Limit         int  `json:"limit"`
	WindowSeconds int  `json:"window_seconds"`
	Enabled       bool `json:"enabled"`
}

// CounterResponse describes the stored counter for one key.
type CounterResponse struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	Count       int64     `json:"count"`
	ResetAt     time.Time `json:"reset_at,omitempty"`
	Active      bool      `json:"active"`
}

// StatusResponse is served by the built-in JSON endpoint when no upstream is
// configured.
type StatusResponse struct {
	Status    string    `json:"status"`
	ClientIP  string    `json:"client_ip"`
	Timestamp time.Time `json:"timestamp"`
}

type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429: Window exhausted
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: Upstream failed
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewValidationErrorResponse(errors map[string]string) *ValidationErrorResponse {
	return &ValidationErrorResponse{
		Error:  "validation_error",
		Errors: errors,
	}
}

// NewSettingsResponse builds the admin view of a settings snapshot.
func NewSettingsResponse(s RateLimitSettings) *SettingsResponse {
	return &SettingsResponse{
		Limit:         s.Limit,
		WindowSeconds: s.WindowSeconds,
		Enabled:       s.Enabled(),
	}
}

// NewCounterResponse builds the admin view of a stored record. Active reports
// whether the record's window is still open at now.
func NewCounterResponse(r CounterRecord, s RateLimitSettings, now time.Time) *CounterResponse {
	resp := &CounterResponse{
		Key:         r.Key,
		WindowStart: r.WindowStartTime(),
		Count:       r.Count,
	}
	if s.Enabled() {
		resp.ResetAt = time.Unix(r.WindowEnd(s.WindowSeconds), 0).UTC()
		resp.Active = now.Unix() < r.WindowEnd(s.WindowSeconds)
	}
	return resp
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
