package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"throttle/internal/models"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	sqliteSelectCounter = `SELECT window_start, count FROM rate_limit_counters WHERE "key" = ?`
	sqliteInsertCounter = `INSERT INTO rate_limit_counters ("key", window_start, count) VALUES (?, ?, ?) ON CONFLICT ("key") DO NOTHING`
	sqliteSwapCounter   = `UPDATE rate_limit_counters SET window_start = ?, count = ? WHERE "key" = ? AND window_start = ? AND count = ?`
	sqliteDeleteBefore  = `DELETE FROM rate_limit_counters WHERE window_start < ?`

	// sqliteDefaultPragmas apply when the DSN sets no pragmas of its own.
	// Waiting on the lock lets processes sharing the file queue up instead
	// of failing with SQLITE_BUSY; WAL lets readers proceed during a write.
	sqliteDefaultPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
)

// SQLiteStorage stores counters in a SQLite database through database/sql.
// Writes are conditional updates, so concurrent processes sharing the file
// stay consistent.
type SQLiteStorage struct {
	db          *sql.DB
	maxAttempts int
}

// NewSQLiteStorage opens the database named by the connection string and
// creates the counter table if it is missing.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", sqliteDSN(config.ConnectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer at a time; one connection also keeps
	// ":memory:" databases from splitting per connection.
	maxOpen := config.MaxOpenConns
	if maxOpen < 1 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &SQLiteStorage{
		db:          db,
		maxAttempts: config.attempts(),
	}, nil
}

// Apply reads the row, evaluates fn and writes back with a conditional
// statement, retrying when another writer got there first.
func (ss *SQLiteStorage) Apply(ctx context.Context, key string, window time.Duration, fn ApplyFunc) (models.CounterRecord, error) {
	return applyCAS(ctx, ss, key, fn, ss.maxAttempts)
}

func (ss *SQLiteStorage) Get(ctx context.Context, key string) (*models.CounterRecord, error) {
	record, err := ss.load(ctx, key)
	if err != nil {
		return nil, unavailable(err)
	}
	return record, nil
}

func (ss *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := ss.db.ExecContext(ctx, sqliteDeleteBefore, cutoff.Unix())
	if err != nil {
		return 0, unavailable(fmt.Errorf("failed to delete expired counters: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	if err := ss.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// sqliteDSN adds the default pragmas to dsn unless it already has some.
// In-memory databases get the busy timeout only.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	pragmas := sqliteDefaultPragmas
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		pragmas = "_pragma=busy_timeout(5000)"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + pragmas
}

// sqliteErr wraps err for op. Lock contention that outlasted the busy
// timeout is reported as a conflict so the write is retried.
func sqliteErr(op string, err error) error {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s: %w", errConflict, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (ss *SQLiteStorage) load(ctx context.Context, key string) (*models.CounterRecord, error) {
	record := models.CounterRecord{Key: key}
	err := ss.db.QueryRowContext(ctx, sqliteSelectCounter, key).Scan(&record.WindowStart, &record.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteErr("failed to load counter", err)
	}
	return &record, nil
}

func (ss *SQLiteStorage) insert(ctx context.Context, rec models.CounterRecord) (bool, error) {
	res, err := ss.db.ExecContext(ctx, sqliteInsertCounter, rec.Key, rec.WindowStart, rec.Count)
	if err != nil {
		return false, sqliteErr("failed to insert counter", err)
	}
	return singleRow(res)
}

func (ss *SQLiteStorage) swap(ctx context.Context, old, next models.CounterRecord) (bool, error) {
	res, err := ss.db.ExecContext(ctx, sqliteSwapCounter,
		next.WindowStart, next.Count, old.Key, old.WindowStart, old.Count)
	if err != nil {
		return false, sqliteErr("failed to update counter", err)
	}
	return singleRow(res)
}

func singleRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// schemaStatements splits the embedded schema into individual statements.
func schemaStatements() []string {
	var stmts []string
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
