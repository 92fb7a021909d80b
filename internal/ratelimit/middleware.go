package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"throttle/internal/models"
	"time"

	"golang.org/x/time/rate"
)

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	gate           func(*http.Request) bool
	trustForwarded bool
	now            func() time.Time
	denyLog        *rate.Limiter
}

// WithGate selects which requests are counted. Requests the gate rejects
// pass straight through. The default gate is JSONRequests().
func WithGate(gate func(*http.Request) bool) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.gate = gate
	}
}

// WithTrustForwardedHeaders makes the client IP come from X-Forwarded-For or
// X-Real-IP. Only enable behind a proxy that overwrites those headers.
func WithTrustForwardedHeaders(trust bool) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.trustForwarded = trust
	}
}

// WithClock overrides the time source used for decisions.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.now = now
	}
}

// AllRequests is a gate that counts every request.
func AllRequests(*http.Request) bool { return true }

// JSONRequests returns a gate that counts requests for JSON: a _format=json
// query parameter, a JSON Accept or Content-Type header, or a path under one
// of pathPrefixes.
func JSONRequests(pathPrefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if r.URL.Query().Get("_format") == "json" {
			return true
		}
		if isJSONMediaType(r.Header.Get("Accept")) || isJSONMediaType(r.Header.Get("Content-Type")) {
			return true
		}
		for _, prefix := range pathPrefixes {
			if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
				return true
			}
		}
		return false
	}
}

func isJSONMediaType(header string) bool {
	for _, part := range strings.Split(header, ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
			return true
		}
	}
	return false
}

// Middleware returns HTTP middleware that enforces the engine's limit per
// client IP. Denied requests get a 429 with Retry-After and a JSON body.
func Middleware(engine *Engine, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		gate:    JSONRequests(),
		now:     time.Now,
		denyLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.gate(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientIP(r, cfg.trustForwarded)
			decision, err := engine.Admit(r.Context(), key, cfg.now())
			if err != nil {
				if errors.Is(err, ErrInvalidKey) {
					writeError(w, http.StatusBadRequest,
						models.NewErrorResponse("Could not determine client address", models.ErrorCodeInvalidRequest))
					return
				}
				writeError(w, http.StatusInternalServerError,
					models.NewErrorResponse("Rate limit check failed", models.ErrorCodeInternalError))
				return
			}

			setRateLimitHeaders(w.Header(), decision)

			if !decision.Allowed {
				secs := decision.RetryAfterSeconds
				w.Header().Set("Retry-After", strconv.FormatUint(uint64(secs), 10))

				resp := models.NewErrorResponse(
					fmt.Sprintf("Rate limit exceeded. Please wait for another %d seconds before making more requests.", secs),
					models.ErrorCodeRateLimitExceeded,
				)
				resp.RetryAfter = secs
				writeError(w, http.StatusTooManyRequests, resp)

				if cfg.denyLog.Allow() {
					slog.Warn("Rate limit exceeded",
						"key", key,
						"limit", decision.Limit,
						"retry_after", secs,
						"reason", string(decision.Reason),
						"path", r.URL.Path,
					)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(h http.Header, d Decision) {
	if d.Limit <= 0 || d.Reason == ReasonDisabled {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	if d.Degraded() && d.Allowed {
		return
	}
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func writeError(w http.ResponseWriter, status int, resp *models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// ClientIP extracts the client address from the request. Forwarding headers
// are consulted only when trustForwarded is set, and only a value that parses
// as an IP address is used; otherwise the connection's remote address is
// used with the port removed.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseIP returns the canonical text of an address taken from a header, so
// one client never maps to two buckets by spelling.
func parseIP(value string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
