package storage

import (
	"context"
	"errors"
	"fmt"
	"throttle/internal/models"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts     = 5
	conflictInitialBackoff = 2 * time.Millisecond
	conflictMaxBackoff     = 50 * time.Millisecond
)

// retryConflicts runs attempt until it succeeds, fails with anything other
// than errConflict, or maxAttempts is used up. Waits between attempts grow
// exponentially with jitter.
func retryConflicts(ctx context.Context, maxAttempts int, attempt func() (models.CounterRecord, error)) (models.CounterRecord, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictInitialBackoff
	b.MaxInterval = conflictMaxBackoff

	record, err := backoff.Retry(ctx, func() (models.CounterRecord, error) {
		record, err := attempt()
		if err != nil && !errors.Is(err, errConflict) {
			return record, backoff.Permanent(err)
		}
		return record, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxAttempts)))

	switch {
	case err == nil:
		return record, nil
	case errors.Is(err, errConflict):
		return models.CounterRecord{}, fmt.Errorf("%w after %d attempts", ErrRetryExhausted, maxAttempts)
	case errors.Is(err, ErrUnavailable):
		return models.CounterRecord{}, err
	default:
		return models.CounterRecord{}, unavailable(err)
	}
}

// casBackend is the row-level primitive set shared by the SQL stores.
type casBackend interface {
	// load returns the stored record or nil.
	load(ctx context.Context, key string) (*models.CounterRecord, error)
	// insert creates rec unless a row for its key exists; false means it did.
	insert(ctx context.Context, rec models.CounterRecord) (bool, error)
	// swap replaces old with next only if the row still equals old.
	swap(ctx context.Context, old, next models.CounterRecord) (bool, error)
}

// applyCAS implements CounterStore.Apply on top of casBackend using
// optimistic compare-and-swap. A lost race reloads and re-evaluates.
func applyCAS(ctx context.Context, b casBackend, key string, fn ApplyFunc, maxAttempts int) (models.CounterRecord, error) {
	return retryConflicts(ctx, maxAttempts, func() (models.CounterRecord, error) {
		existing, err := b.load(ctx, key)
		if err != nil {
			return models.CounterRecord{}, casErr(err)
		}

		next, write := fn(existing)
		if !write {
			if existing == nil {
				return models.CounterRecord{}, nil
			}
			return *existing, nil
		}
		next.Key = key

		var ok bool
		if existing == nil {
			ok, err = b.insert(ctx, next)
		} else {
			ok, err = b.swap(ctx, *existing, next)
		}
		if err != nil {
			return models.CounterRecord{}, casErr(err)
		}
		if !ok {
			return models.CounterRecord{}, errConflict
		}
		return next, nil
	})
}

// casErr keeps backend-reported conflicts retryable and marks everything
// else as unavailable.
func casErr(err error) error {
	if errors.Is(err, errConflict) {
		return err
	}
	return unavailable(err)
}
