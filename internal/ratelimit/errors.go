package ratelimit

import (
	"errors"
	"fmt"
	"throttle/internal/storage"
	"unicode"
	"unicode/utf8"
)

// MaxKeyLength bounds the size of a rate limit key in bytes.
const MaxKeyLength = 255

// ErrInvalidKey is returned by Admit for keys that cannot identify a client.
var ErrInvalidKey = errors.New("invalid rate limit key")

// ValidateKey rejects empty, oversized and non-printable keys so malformed
// identifiers never collapse into one shared bucket.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidKey)
		}
	}
	return nil
}

// failureReason maps a store error onto the diagnostic reported with a
// policy decision.
func failureReason(err error) Reason {
	if errors.Is(err, storage.ErrRetryExhausted) {
		return ReasonRetryExhausted
	}
	return ReasonStoreUnavailable
}
