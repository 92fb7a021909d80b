package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"throttle/internal/logger"
	"throttle/internal/models"
	"throttle/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "throttle version")
	assert.Contains(t, out, "Go version:")
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.GetInfo().InstanceID, info.InstanceID)
}

func TestConfigExampleCmd(t *testing.T) {
	out, err := execute(t, "config", "example")
	require.NoError(t, err)
	assert.Contains(t, out, "rate_limit:")
	assert.Contains(t, out, "window_seconds: 30")
}

func TestConfigExampleCmd_Output(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "throttle.yaml")

	out, err := execute(t, "config", "example", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "failure_policy: open")
}

func TestConfigValidateCmd(t *testing.T) {
	good := writeFile(t, "good.yaml", "rate_limit:\n  limit: 7\n  window_seconds: 10\n")
	out, err := execute(t, "--config", good, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "limit: 7 per 10s")

	out, err = execute(t, "config", "validate", "-c", good)
	require.NoError(t, err)
	assert.Contains(t, out, "limit: 7 per 10s")

	bad := writeFile(t, "bad.yaml", "storage:\n  type: cassandra\n")
	_, err = execute(t, "-c", bad, "config", "validate")
	assert.ErrorContains(t, err, "invalid storage type")
}

func TestConfigValidateCmd_RequiresConfigFlag(t *testing.T) {
	_, err := execute(t, "config", "validate")
	assert.ErrorContains(t, err, "pass --config")
}

func TestReapCmd_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "counters.db")
	cfgPath := writeFile(t, "throttle.yaml", "storage:\n  type: sqlite\n  database:\n    dsn: "+dsn+"\n")

	out, err := execute(t, "--config", cfgPath, "reap", "--retention", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 expired counters from sqlite storage")
}

func TestReapCmd_BadConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "reap")
	assert.Error(t, err)
}

func TestNewService_WiresLimiter(t *testing.T) {
	cfg := models.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.RateLimit.Limit = 1
	cfg.Security.AdminToken = "tok"

	svc, err := newService(cfg, "", version.Info{Version: "test"})
	require.NoError(t, err)
	defer svc.close()

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status?_format=json", nil)
		req.RemoteAddr = "192.0.2.1:40000"
		rec := httptest.NewRecorder()
		svc.server.Handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, request().Code)
	assert.Equal(t, http.StatusTooManyRequests, request().Code)

	health := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestNewService_ReloadAppliesFile(t *testing.T) {
	path := writeFile(t, "throttle.yaml", "rate_limit:\n  limit: 5\n  window_seconds: 30\nmetrics:\n  enabled: false\n")
	cfg := models.NewDefaultConfig()
	cfg.Metrics.Enabled = false

	svc, err := newService(cfg, path, version.Info{})
	require.NoError(t, err)
	defer svc.close()

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 50\n  window_seconds: 60\nmetrics:\n  enabled: false\n"), 0644))
	svc.reload()
	assert.Equal(t, models.RateLimitSettings{Limit: 50, WindowSeconds: 60}, svc.live.Snapshot())

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: -1\n"), 0644))
	svc.reload()
	assert.Equal(t, models.RateLimitSettings{Limit: 50, WindowSeconds: 60}, svc.live.Snapshot())
}

// SIGHUP and POST /admin/reload go through the same reload and both apply
// the log level along with the rate limit.
func TestNewService_ReloadPathsAgree(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, logger.SetLevel("info")) })

	path := writeFile(t, "throttle.yaml", "rate_limit:\n  limit: 5\n  window_seconds: 30\nmetrics:\n  enabled: false\n")
	cfg := models.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Security.AdminToken = "reload-token"

	svc, err := newService(cfg, path, version.Info{})
	require.NoError(t, err)
	defer svc.close()

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 7\n  window_seconds: 30\nlogging:\n  level: debug\nmetrics:\n  enabled: false\n"), 0644))
	svc.reload()
	assert.Equal(t, 7, svc.live.Snapshot().Limit)
	assert.Equal(t, slog.LevelDebug, logger.Level())

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 8\n  window_seconds: 30\nlogging:\n  level: warn\nmetrics:\n  enabled: false\n"), 0644))
	req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
	req.Header.Set("Authorization", "Bearer reload-token")
	rec := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, svc.live.Snapshot().Limit)
	assert.Equal(t, slog.LevelWarn, logger.Level())
}

func TestNewService_InvalidUpstream(t *testing.T) {
	cfg := models.NewDefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Upstream.URL = "not a url"

	_, err := newService(cfg, "", version.Info{})
	assert.Error(t, err)
}
