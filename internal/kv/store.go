// Package kv is the key-value persistence layer the game snapshot lives in.
// Implementations include in-memory (tests), a JSON file directory (the
// default single-machine mode), SQLite, PostgreSQL and Redis.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or
// was deleted.
var ErrNotFound = errors.New("kv: key not found")

// Store is a flat byte-valued key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
