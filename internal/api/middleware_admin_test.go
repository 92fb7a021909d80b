package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdminTokenMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{name: "admin disabled", configured: "", header: "Bearer anything", wantStatus: http.StatusNotFound},
		{name: "missing header", configured: "tok", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", configured: "tok", header: "Basic tok", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", configured: "tok", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "prefix of token", configured: "tok", header: "Bearer to", wantStatus: http.StatusUnauthorized},
		{name: "valid token", configured: "tok", header: "Bearer tok", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := adminTokenMiddleware(tt.configured)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	cfg := newTestConfig()
	cfg.Security.AdminToken = ""
	ts := newTestServer(t, cfg)

	rec := ts.do(adminRequest(http.MethodGet, "/admin/settings", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
