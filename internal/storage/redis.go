package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"throttle/internal/models"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldWindowStart = "window_start"
	redisFieldCount       = "count"
)

// RedisStorage keeps each counter in a hash guarded by WATCH/MULTI. Keys
// expire on their own, so DeleteBefore has nothing to do.
type RedisStorage struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
	retention   time.Duration
}

// NewRedisStorage connects to the configured Redis server.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.Redis.Addr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{config.Redis.Addr},
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return newRedisStorage(client, config), nil
}

func newRedisStorage(client redis.UniversalClient, config Config) *RedisStorage {
	return &RedisStorage{
		client:      client,
		prefix:      config.Redis.KeyPrefix,
		maxAttempts: config.attempts(),
		retention:   config.Retention,
	}
}

// expiresAt is when a counter whose window started at start may go. Keys
// outlive their window by the retention, so a window lengthened through a
// settings change still finds the counter it has to deny against.
func (rs *RedisStorage) expiresAt(start int64, window time.Duration) time.Time {
	return time.Unix(start, 0).Add(max(window, rs.retention))
}

func (rs *RedisStorage) redisKey(key string) string {
	return rs.prefix + key
}

// Apply watches the counter key, evaluates fn and commits in a transaction.
// A transaction aborted by a concurrent write is retried.
func (rs *RedisStorage) Apply(ctx context.Context, key string, window time.Duration, fn ApplyFunc) (models.CounterRecord, error) {
	rkey := rs.redisKey(key)

	return retryConflicts(ctx, rs.maxAttempts, func() (models.CounterRecord, error) {
		var stored models.CounterRecord

		txf := func(tx *redis.Tx) error {
			existing, err := loadRedisRecord(ctx, tx, rkey, key)
			if err != nil {
				return err
			}

			next, write := fn(existing)
			if !write {
				if existing != nil {
					stored = *existing
				}
				return nil
			}
			next.Key = key

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, rkey, redisFieldWindowStart, next.WindowStart, redisFieldCount, next.Count)
				if window > 0 {
					pipe.ExpireAt(ctx, rkey, rs.expiresAt(next.WindowStart, window))
				}
				return nil
			})
			if err != nil {
				return err
			}
			stored = next
			return nil
		}

		err := rs.client.Watch(ctx, txf, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			return models.CounterRecord{}, errConflict
		}
		if err != nil {
			return models.CounterRecord{}, unavailable(err)
		}
		return stored, nil
	})
}

func (rs *RedisStorage) Get(ctx context.Context, key string) (*models.CounterRecord, error) {
	record, err := loadRedisRecord(ctx, rs.client, rs.redisKey(key), key)
	if err != nil {
		return nil, unavailable(err)
	}
	return record, nil
}

// DeleteBefore is a no-op; Redis expires counters on its own.
func (rs *RedisStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (rs *RedisStorage) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// hashReader is satisfied by both the client and a watched transaction.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func loadRedisRecord(ctx context.Context, c hashReader, rkey, key string) (*models.CounterRecord, error) {
	fields, err := c.HGetAll(ctx, rkey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load counter: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	start, err := strconv.ParseInt(fields[redisFieldWindowStart], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt window_start for %s: %w", rkey, err)
	}
	count, err := strconv.ParseInt(fields[redisFieldCount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt count for %s: %w", rkey, err)
	}
	return &models.CounterRecord{Key: key, WindowStart: start, Count: count}, nil
}
