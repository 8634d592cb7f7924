// Package cache holds the best-effort key/value stores used by the schema
// registry: an external store (Redis, or go-cache in single-process
// deployments) and a bounded in-process LRU.
package cache

import (
	"context"
	"time"
)

// SchemaCache is a best-effort byte store. A miss is reported as
// (nil, false, nil); any error means the backend is unavailable and callers
// treat it as a miss.
type SchemaCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
