package ratelimit

import (
	"context"
	"errors"
	"testing"
	"throttle/internal/models"
	"throttle/internal/storage"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func seed(t *testing.T, store storage.CounterStore, key string, start int64) {
	t.Helper()
	_, err := store.Apply(context.Background(), key, time.Minute, func(*models.CounterRecord) (models.CounterRecord, bool) {
		return models.CounterRecord{WindowStart: start, Count: 1}, true
	})
	require.NoError(t, err)
}

func TestReaper_Cutoff(t *testing.T) {
	tests := []struct {
		name      string
		settings  models.RateLimitSettings
		retention time.Duration
		expected  int64
	}{
		{name: "retention longer than window", settings: fiveIn30, retention: time.Hour, expected: 10000 - 3600},
		{name: "window longer than retention", settings: models.RateLimitSettings{Limit: 1, WindowSeconds: 7200}, retention: time.Hour, expected: 10000 - 7200},
		{name: "disabled uses retention", settings: models.RateLimitSettings{}, retention: time.Minute, expected: 10000 - 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaper(&failingStore{}, StaticSettings(tt.settings), time.Minute, tt.retention)
			assert.Equal(t, tt.expected, r.Cutoff(at(10000)).Unix())
		})
	}
}

func TestReaper_Sweep(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	defer store.Close()

	seed(t, store, "old", 1000)
	seed(t, store, "recent", 9990)

	r := NewReaper(store, StaticSettings(fiveIn30), time.Minute, 0)
	r.now = func() time.Time { return at(10000) }

	removed, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := store.Get(context.Background(), "recent")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestReaper_SweepError(t *testing.T) {
	r := NewReaper(&failingStore{err: errors.New("down")}, StaticSettings(fiveIn30), time.Minute, 0)
	_, err := r.Sweep(context.Background())
	assert.Error(t, err)
}

func TestReaper_StartStop(t *testing.T) {
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	defer store.Close()

	seed(t, store, "old", 1)

	r := NewReaper(store, StaticSettings(fiveIn30), 10*time.Millisecond, time.Second)
	r.Start(context.Background())

	assert.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), "old")
		return err == nil && got == nil
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestReaper_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReaper(&failingStore{}, StaticSettings(fiveIn30), time.Millisecond, 0)
	r.Start(ctx)
	cancel()
	r.Stop()
}

func TestReaper_ZeroIntervalDisabled(t *testing.T) {
	store := &failingStore{}
	r := NewReaper(store, StaticSettings(fiveIn30), 0, 0)
	r.Start(context.Background())
	r.Stop()
	assert.Zero(t, store.calls.Load())
}
