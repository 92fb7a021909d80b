package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"throttle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamProxy_ForwardsAdmittedRequests(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.Header().Set("X-Upstream-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.Header().Set("X-Upstream-User-Agent", r.Header.Get("User-Agent"))
		io.WriteString(w, "from upstream")
	}))
	defer upstream.Close()

	proxy, err := NewUpstreamProxy(upstream.URL, "throttle/test")
	require.NoError(t, err)
	ts := newTestServer(t, newTestConfig(), WithUpstream(proxy))

	req := jsonRequest(http.MethodGet, "/orders/42", "192.0.2.1:5000")
	req.Header.Del("User-Agent")
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from upstream", rec.Body.String())
	assert.Equal(t, "/orders/42", rec.Header().Get("X-Upstream-Path"))
	assert.Equal(t, "192.0.2.1", rec.Header().Get("X-Upstream-Forwarded-For"))
	assert.Equal(t, "throttle/test", rec.Header().Get("X-Upstream-User-Agent"))

	require.Equal(t, http.StatusOK, ts.do(jsonRequest(http.MethodGet, "/orders/42", "192.0.2.1:5000")).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(jsonRequest(http.MethodGet, "/orders/42", "192.0.2.1:5000")).Code)
	assert.Equal(t, int32(2), hits.Load(), "denied requests must not reach the upstream")
}

func TestUpstreamProxy_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	proxy, err := NewUpstreamProxy(addr, "throttle/test")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeBadGateway, resp.Code)
}

func TestNewUpstreamProxy_InvalidURL(t *testing.T) {
	for _, raw := range []string{"://bad", "/relative/path", "localhost"} {
		_, err := NewUpstreamProxy(raw, "")
		assert.Error(t, err, raw)
	}
}
