package storage

import (
	"context"
	"fmt"

	"github.com/klinners/klinners_web/internal/config"
)

// Open builds the Backend selected by cfg.StorageBackend. The returned closer
// releases network clients and is safe to call for local backends.
func Open(ctx context.Context, cfg config.Config) (Backend, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.StorageBackend {
	case config.StorageMemory:
		return NewMemory(), noClose, nil
	case config.StorageNone:
		return NewNoop(), noClose, nil
	case config.StorageFile:
		return NewFile(cfg.StoragePath), noClose, nil
	case config.StorageRedis:
		client, err := DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		prefix := defaultRedisPrefix + cfg.StorageNamespace + ":"
		return NewRedis(client, prefix), client.Close, nil
	case config.StoragePostgres:
		pool, err := DialPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		backend := NewPostgres(pool, cfg.StorageNamespace)
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return backend, func() error { pool.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
