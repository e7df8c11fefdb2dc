package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get for absent or expired keys.
var ErrMiss = errors.New("cache miss")

// Store is the raw key-value backend under a Layer.
// Every error other than ErrMiss wraps utils.ErrCacheUnavailable.
// A ttl <= 0 stores the key without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
}
