package config

import (
	"context"
	"fmt"
	"path/filepath"

	"stockclass/internal/db"
	"stockclass/internal/kv"
)

// OpenStore connects the key-value backend selected by c.
func OpenStore(ctx context.Context, c StoreConfig) (kv.Store, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Backend {
	case BackendMemory:
		return kv.NewMemoryStore(), nil
	case BackendFile:
		return kv.NewFileStore(c.DataDir)
	case BackendSQLite:
		path := c.SQLitePath
		if path == "" {
			fs, err := kv.NewFileStore(c.DataDir)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(fs.Dir(), "stockclass.db")
		}
		return kv.OpenSQLite(path)
	case BackendPostgres:
		pool, err := db.Connect(ctx, c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := kv.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case BackendRedis:
		return kv.OpenRedis(ctx, c.RedisURL)
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Backend)
}
