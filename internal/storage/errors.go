package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the backend cannot be read or written,
	// including when the caller's deadline expires first.
	ErrUnavailable = errors.New("counter store unavailable")

	// ErrRetryExhausted is returned when concurrent writers kept winning the
	// compare-and-swap race for longer than the attempt budget.
	ErrRetryExhausted = errors.New("counter store retries exhausted")

	// errConflict marks a lost compare-and-swap; it never leaves the package.
	errConflict = errors.New("counter record changed concurrently")
)

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
