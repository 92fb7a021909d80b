package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"throttle/internal/models"
)

// Live holds the rate limit settings that can change while the service runs.
// Readers get an immutable copy; writers swap the whole value.
type Live struct {
	path    string
	current atomic.Pointer[models.RateLimitSettings]

	// reloadMu serializes Reload so two reloads do not interleave file reads.
	reloadMu sync.Mutex
	onReload []func(*models.Config)
}

// LiveOption configures Live.
type LiveOption func(*Live)

// WithReloadHook runs fn with the freshly loaded configuration after every
// successful Reload, while reloads are still serialized. It lets the caller
// apply sections other than the rate limit, such as the log level.
func WithReloadHook(fn func(*models.Config)) LiveOption {
	return func(l *Live) {
		l.onReload = append(l.onReload, fn)
	}
}

// NewLive creates live settings seeded with initial. path is the config file
// Reload re-reads; it may be empty, in which case Reload only applies
// environment overrides on top of defaults.
func NewLive(path string, initial models.RateLimitSettings, opts ...LiveOption) *Live {
	l := &Live{path: path}
	l.current.Store(&initial)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Snapshot returns the current settings.
func (l *Live) Snapshot() models.RateLimitSettings {
	return *l.current.Load()
}

// Update validates and installs new settings.
func (l *Live) Update(s models.RateLimitSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit settings: %w", err)
	}
	old := l.current.Swap(&s)
	slog.Info("Rate limit settings updated",
		"limit", s.Limit,
		"window_seconds", s.WindowSeconds,
		"previous_limit", old.Limit,
		"previous_window_seconds", old.WindowSeconds,
	)
	return nil
}

// Reload re-reads the configuration file and environment, installs the rate
// limit section and runs the reload hooks. Both SIGHUP and the admin API
// come through here.
func (l *Live) Reload() (models.RateLimitSettings, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	cfg, err := Load(l.path)
	if err != nil {
		return l.Snapshot(), fmt.Errorf("reload failed, keeping current settings: %w", err)
	}

	settings := cfg.RateLimit.Settings()
	if err := l.Update(settings); err != nil {
		return l.Snapshot(), err
	}
	for _, fn := range l.onReload {
		fn(cfg)
	}
	return settings, nil
}
