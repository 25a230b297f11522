// Package store provides the key-value abstraction the mint ledger is
// built on, with Redis, PostgreSQL and in-memory backends.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Store is a minimal key-value interface with set membership.
// A zero ttl means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// GetMany returns one entry per key, nil where the key is missing.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, key string) error
	// DelIfEqual deletes key only while it still holds value.
	DelIfEqual(ctx context.Context, key string, value []byte) (bool, error)
	// GetDel atomically reads and removes key.
	GetDel(ctx context.Context, key string) ([]byte, error)
	AddToSet(ctx context.Context, setKey, member string) error
	Members(ctx context.Context, setKey string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Open connects to the named backend. url is ignored for the memory backend.
func Open(ctx context.Context, backend, url string) (Store, error) {
	switch backend {
	case BackendRedis:
		return NewRedis(ctx, url)
	case BackendPostgres:
		return NewPostgres(ctx, url)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store backend: " + backend)
	}
}
