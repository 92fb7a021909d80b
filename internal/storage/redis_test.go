package storage

import (
	"context"
	"os"
	"testing"
	"throttle/internal/models"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping Redis tests")
	}
	return addr
}

// newRedisTestStorage isolates each test under a fresh key prefix.
func newRedisTestStorage(t *testing.T) CounterStore {
	t.Helper()
	s, err := NewRedisStorage(Config{
		Redis: models.RedisConfig{
			Addr:      getRedisAddr(t),
			KeyPrefix: "throttle-test:" + uuid.NewString() + ":",
		},
		MaxAttempts: 100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStorage_RequiresAddr(t *testing.T) {
	_, err := NewRedisStorage(Config{})
	assert.Error(t, err)
}

func TestRedisStorage(t *testing.T) {
	getRedisAddr(t)
	runCounterStoreSuite(t, newRedisTestStorage)
}

func TestRedisStorage_ExpiresWithWindow(t *testing.T) {
	s := newRedisTestStorage(t).(*RedisStorage)
	ctx := context.Background()
	now := time.Now().Unix()

	_, err := s.Apply(ctx, "192.0.2.1", 5*time.Second, fixedRecord(now, 1))
	require.NoError(t, err)

	ttl, err := s.client.TTL(ctx, s.redisKey("192.0.2.1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 5*time.Second)
}

func TestRedisStorage_ExpiresAfterRetention(t *testing.T) {
	addr := getRedisAddr(t)
	s, err := NewRedisStorage(Config{
		Redis: models.RedisConfig{
			Addr:      addr,
			KeyPrefix: "throttle-test:" + uuid.NewString() + ":",
		},
		Retention: time.Hour,
	})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Apply(ctx, "192.0.2.1", 5*time.Second, fixedRecord(time.Now().Unix(), 1))
	require.NoError(t, err)

	ttl, err := s.client.TTL(ctx, s.redisKey("192.0.2.1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestRedisStorage_ExpiresAt(t *testing.T) {
	start := int64(1_700_000_000)
	tests := []struct {
		name      string
		retention time.Duration
		window    time.Duration
		want      time.Duration
	}{
		{"no retention uses window", 0, time.Minute, time.Minute},
		{"retention longer than window", time.Hour, time.Minute, time.Hour},
		{"window longer than retention", time.Minute, 2 * time.Hour, 2 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &RedisStorage{retention: tt.retention}
			assert.Equal(t, time.Unix(start, 0).Add(tt.want), rs.expiresAt(start, tt.window))
		})
	}
}

func TestRedisStorage_DeleteBeforeIsNoop(t *testing.T) {
	s := newRedisTestStorage(t)
	removed, err := s.DeleteBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
