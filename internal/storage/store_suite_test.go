package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"throttle/internal/models"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterTestWindow is the window length every suite case is evaluated with.
const counterTestWindow = 30 * time.Second

// incrementIfBelow admits while count < limit, mirroring a fixed window
// decision without depending on the ratelimit package.
func incrementIfBelow(limit int64, now int64) ApplyFunc {
	return func(existing *models.CounterRecord) (models.CounterRecord, bool) {
		if existing == nil || now >= existing.WindowStart+int64(counterTestWindow/time.Second) {
			return models.CounterRecord{WindowStart: now, Count: 1}, true
		}
		if existing.Count < limit {
			return models.CounterRecord{WindowStart: existing.WindowStart, Count: existing.Count + 1}, true
		}
		return *existing, false
	}
}

// runCounterStoreSuite exercises the CounterStore contract against a backend.
// newStore must return an empty store whose attempt budget survives twenty
// writers racing on one key.
func runCounterStoreSuite(t *testing.T, newStore func(t *testing.T) CounterStore) {
	ctx := context.Background()

	t.Run("Get missing key", func(t *testing.T) {
		s := newStore(t)
		record, err := s.Get(ctx, "203.0.113.1")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("Apply creates record", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().Unix()
		var seen *models.CounterRecord
		stored, err := s.Apply(ctx, "203.0.113.2", counterTestWindow, func(existing *models.CounterRecord) (models.CounterRecord, bool) {
			seen = existing
			return models.CounterRecord{WindowStart: now, Count: 1}, true
		})
		require.NoError(t, err)
		assert.Nil(t, seen)
		assert.Equal(t, models.CounterRecord{Key: "203.0.113.2", WindowStart: now, Count: 1}, stored)

		got, err := s.Get(ctx, "203.0.113.2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, stored, *got)
	})

	t.Run("Apply passes existing record", func(t *testing.T) {
		s := newStore(t)
		key := "203.0.113.3"
		_, err := s.Apply(ctx, key, counterTestWindow, incrementIfBelow(5, time.Now().Unix()))
		require.NoError(t, err)

		var seen models.CounterRecord
		_, err = s.Apply(ctx, key, counterTestWindow, func(existing *models.CounterRecord) (models.CounterRecord, bool) {
			require.NotNil(t, existing)
			seen = *existing
			return *existing, false
		})
		require.NoError(t, err)
		assert.Equal(t, key, seen.Key)
		assert.Equal(t, int64(1), seen.Count)
	})

	t.Run("Apply without write leaves store untouched", func(t *testing.T) {
		s := newStore(t)
		stored, err := s.Apply(ctx, "203.0.113.4", counterTestWindow, func(existing *models.CounterRecord) (models.CounterRecord, bool) {
			return models.CounterRecord{WindowStart: 1, Count: 99}, false
		})
		require.NoError(t, err)
		assert.Zero(t, stored)

		got, err := s.Get(ctx, "203.0.113.4")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Keys are independent", func(t *testing.T) {
		s := newStore(t)
		now := time.Now().Unix()
		for i := 0; i < 3; i++ {
			_, err := s.Apply(ctx, "198.51.100.1", counterTestWindow, incrementIfBelow(10, now))
			require.NoError(t, err)
		}
		_, err := s.Apply(ctx, "198.51.100.2", counterTestWindow, incrementIfBelow(10, now))
		require.NoError(t, err)

		a, err := s.Get(ctx, "198.51.100.1")
		require.NoError(t, err)
		b, err := s.Get(ctx, "198.51.100.2")
		require.NoError(t, err)
		require.NotNil(t, a)
		require.NotNil(t, b)
		assert.Equal(t, int64(3), a.Count)
		assert.Equal(t, int64(1), b.Count)
	})

	t.Run("Concurrent increments are not lost", func(t *testing.T) {
		s := newStore(t)
		key := "192.0.2.10"
		now := time.Now().Unix()
		const limit = 5
		const workers = 20

		var admitted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// The callback may run more than once; only the last run's
				// view matches what was committed.
				prev := int64(-1)
				stored, err := s.Apply(ctx, key, counterTestWindow, func(existing *models.CounterRecord) (models.CounterRecord, bool) {
					if existing == nil {
						prev = 0
					} else {
						prev = existing.Count
					}
					return incrementIfBelow(limit, now)(existing)
				})
				if err == nil && stored.Count == prev+1 {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(limit), got.Count)
		assert.Equal(t, int64(limit), admitted.Load())
	})

	t.Run("DeleteBefore keeps newer windows", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().Unix()
		for i, start := range []int64{base - 20, base - 10, base} {
			start := start
			_, err := s.Apply(ctx, fmt.Sprintf("10.0.0.%d", i), counterTestWindow, func(*models.CounterRecord) (models.CounterRecord, bool) {
				return models.CounterRecord{WindowStart: start, Count: 1}, true
			})
			require.NoError(t, err)
		}

		_, err := s.DeleteBefore(ctx, time.Unix(base-5, 0))
		require.NoError(t, err)

		got, err := s.Get(ctx, "10.0.0.2")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
