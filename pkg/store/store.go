package store

import (
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store is a key/value session store with per-key expiry. It replaces
// module-level session and rate-limit maps: callers inject an
// implementation instead of reaching for hidden process-wide state.
type Store interface {
	Get(key string) (any, error)
	Set(key string, value any, ttl time.Duration) error
	Delete(key string) error
	// Expire updates the TTL of an existing key.
	Expire(key string, ttl time.Duration) error
}
