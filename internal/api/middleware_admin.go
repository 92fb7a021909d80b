package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"throttle/internal/models"

	"github.com/gorilla/mux"
)

// adminTokenMiddleware guards the admin API with a static bearer token.
// With no token configured the admin API does not exist and every request
// gets a 404.
func adminTokenMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
				return
			}

			if !isValidAdminToken(r.Header.Get("Authorization"), token) {
				slog.Warn("Rejected admin request",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				w.Header().Set("WWW-Authenticate", `Bearer realm="throttle-admin"`)
				writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid or missing admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isValidAdminToken(header, token string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	presented := strings.TrimSpace(header[len(prefix):])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
}
