package cache

import (
	"context"
	"time"
)

// BytesCache is the best-effort cache the shipments service uses for
// current-state snapshots. Implementations may lose data at any time.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
