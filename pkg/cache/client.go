package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key does not exist or has expired.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// GetDel reads and removes the key in one step. Concurrent callers never
	// observe the same value twice.
	GetDel(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
}
