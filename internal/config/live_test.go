package config

import (
	"os"
	"sync"
	"testing"
	"throttle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLive_Snapshot(t *testing.T) {
	l := NewLive("", models.RateLimitSettings{Limit: 5, WindowSeconds: 30})
	assert.Equal(t, models.RateLimitSettings{Limit: 5, WindowSeconds: 30}, l.Snapshot())
}

func TestLive_SnapshotIsACopy(t *testing.T) {
	l := NewLive("", models.RateLimitSettings{Limit: 5, WindowSeconds: 30})
	s := l.Snapshot()
	s.Limit = 1000
	assert.Equal(t, 5, l.Snapshot().Limit)
}

func TestLive_Update(t *testing.T) {
	l := NewLive("", models.RateLimitSettings{Limit: 5, WindowSeconds: 30})

	require.NoError(t, l.Update(models.RateLimitSettings{Limit: 50, WindowSeconds: 10}))
	assert.Equal(t, models.RateLimitSettings{Limit: 50, WindowSeconds: 10}, l.Snapshot())

	require.NoError(t, l.Update(models.RateLimitSettings{}))
	assert.False(t, l.Snapshot().Enabled())
}

func TestLive_UpdateRejectsInvalid(t *testing.T) {
	l := NewLive("", models.RateLimitSettings{Limit: 5, WindowSeconds: 30})

	err := l.Update(models.RateLimitSettings{Limit: -1, WindowSeconds: 30})
	assert.ErrorContains(t, err, "invalid rate limit settings")
	assert.Equal(t, 5, l.Snapshot().Limit)
}

func TestLive_Reload(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  limit: 5\n  window_seconds: 30\n")
	l := NewLive(path, models.RateLimitSettings{Limit: 5, WindowSeconds: 30})

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 9\n  window_seconds: 90\n"), 0644))

	settings, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitSettings{Limit: 9, WindowSeconds: 90}, settings)
	assert.Equal(t, settings, l.Snapshot())
}

func TestLive_ReloadKeepsSettingsOnError(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  limit: 5\n")
	l := NewLive(path, models.RateLimitSettings{Limit: 5, WindowSeconds: 30})

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: -4\n"), 0644))

	settings, err := l.Reload()
	assert.ErrorContains(t, err, "keeping current settings")
	assert.Equal(t, models.RateLimitSettings{Limit: 5, WindowSeconds: 30}, settings)
	assert.Equal(t, settings, l.Snapshot())
}

func TestLive_ReloadRunsHooksOnSuccessOnly(t *testing.T) {
	path := writeConfig(t, "rate_limit:\n  limit: 5\n  window_seconds: 30\nlogging:\n  level: debug\n")

	var seen []string
	l := NewLive(path, models.RateLimitSettings{Limit: 5, WindowSeconds: 30},
		WithReloadHook(func(cfg *models.Config) { seen = append(seen, cfg.Logging.Level) }))

	_, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"debug"}, seen)

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: -4\n"), 0644))
	_, err = l.Reload()
	assert.Error(t, err)
	assert.Equal(t, []string{"debug"}, seen)
}

func TestLive_ConcurrentReadersAndWriters(t *testing.T) {
	l := NewLive("", models.RateLimitSettings{Limit: 1, WindowSeconds: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = l.Update(models.RateLimitSettings{Limit: n, WindowSeconds: n})
			}
		}(i + 1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := l.Snapshot()
				// Limit and window are always written together.
				assert.Equal(t, s.Limit, s.WindowSeconds)
			}
		}()
	}
	wg.Wait()
}
