package storage

import (
	"fmt"
	"throttle/internal/models"
	"time"
)

// Factory provides a centralized way to create storage instances based on configuration.
type Factory struct {
	maxAttempts int
	retention   time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithRetention keeps counters in self-expiring backends for at least d
// after their window starts, matching what the reaper keeps in the others.
func WithRetention(d time.Duration) FactoryOption {
	return func(f *Factory) {
		f.retention = d
	}
}

// NewFactory creates a new storage factory. maxAttempts bounds the optimistic
// write attempts of every store it creates; values below one use the default.
func NewFactory(maxAttempts int, opts ...FactoryOption) *Factory {
	f := &Factory{maxAttempts: maxAttempts}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create instantiates a counter store based on the provided configuration.
// Supported providers:
//   - memory: In-process sharded map (single instance only)
//   - sqlite: SQLite database file shared by processes on one host
//   - postgres: PostgreSQL database shared by any number of instances
//   - redis: Redis server with native key expiry
func (f *Factory) Create(config models.StorageConfig) (CounterStore, error) {
	storageConfig := Config{
		Type:             config.Type,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  config.Database.ConnMaxIdleTime,
		Redis:            config.Redis,
		MaxAttempts:      f.maxAttempts,
		Retention:        f.retention,
	}

	var (
		store CounterStore
		err   error
	)
	switch config.Type {
	case models.StorageTypeMemory:
		store, err = NewMemoryStorage(storageConfig)
	case models.StorageTypeSQLite:
		store, err = asStore(NewSQLiteStorage(storageConfig))
	case models.StorageTypePostgres:
		store, err = asStore(NewPostgresStorage(storageConfig))
	case models.StorageTypeRedis:
		store, err = asStore(NewRedisStorage(storageConfig))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", config.Type, err)
	}
	return store, nil
}

// asStore keeps a failed constructor's typed nil out of the interface.
func asStore[S CounterStore](s S, err error) (CounterStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StorageTypeMemory, models.StorageTypePostgres, models.StorageTypeRedis, models.StorageTypeSQLite}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	switch config.Type {
	case models.StorageTypeMemory:
		// Memory storage requires no additional configuration
	case models.StorageTypePostgres, models.StorageTypeSQLite:
		if config.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", config.Type)
		}
	case models.StorageTypeRedis:
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	return nil
}
