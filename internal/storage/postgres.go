package storage

import (
	"context"
	"errors"
	"fmt"
	"throttle/internal/models"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSelectCounter = `SELECT window_start, count FROM rate_limit_counters WHERE "key" = $1`
	pgInsertCounter = `INSERT INTO rate_limit_counters ("key", window_start, count) VALUES ($1, $2, $3) ON CONFLICT ("key") DO NOTHING`
	pgSwapCounter   = `UPDATE rate_limit_counters SET window_start = $1, count = $2 WHERE "key" = $3 AND window_start = $4 AND count = $5`
	pgDeleteBefore  = `DELETE FROM rate_limit_counters WHERE window_start < $1`
)

// PostgresStorage implements CounterStore on PostgreSQL through a pgx pool.
type PostgresStorage struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}
	if config.ConnMaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schemaStatements() {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &PostgresStorage{
		pool:        pool,
		maxAttempts: config.attempts(),
	}, nil
}

func (ps *PostgresStorage) Apply(ctx context.Context, key string, window time.Duration, fn ApplyFunc) (models.CounterRecord, error) {
	return applyCAS(ctx, ps, key, fn, ps.maxAttempts)
}

func (ps *PostgresStorage) Get(ctx context.Context, key string) (*models.CounterRecord, error) {
	record, err := ps.load(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}
	return record, nil
}

func (ps *PostgresStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := ps.pool.Exec(ctx, pgDeleteBefore, cutoff.Unix())
	if err != nil {
		return 0, unavailable(fmt.Errorf("failed to delete expired counters: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	if err := ps.pool.Ping(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func (ps *PostgresStorage) load(ctx context.Context, key string) (*models.CounterRecord, error) {
	record := models.CounterRecord{Key: key}
	err := ps.pool.QueryRow(ctx, pgSelectCounter, key).Scan(&record.WindowStart, &record.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load counter: %w", err)
	}
	return &record, nil
}

func (ps *PostgresStorage) insert(ctx context.Context, rec models.CounterRecord) (bool, error) {
	tag, err := ps.pool.Exec(ctx, pgInsertCounter, rec.Key, rec.WindowStart, rec.Count)
	if err != nil {
		return false, fmt.Errorf("failed to insert counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (ps *PostgresStorage) swap(ctx context.Context, old, next models.CounterRecord) (bool, error) {
	tag, err := ps.pool.Exec(ctx, pgSwapCounter,
		next.WindowStart, next.Count, old.Key, old.WindowStart, old.Count)
	if err != nil {
		return false, fmt.Errorf("failed to update counter: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
