// Package cache provides the read-through cache used for cart and order
// views. It is never the source of truth: every value is derived from a
// transactionally consistent read, so eviction is always safe.
package cache

import (
	"context"
	"time"
)

// Cache is the swappable backend boundary. Get reports a miss with ok=false
// and no error; errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
