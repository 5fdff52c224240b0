package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Store is the asynchronous key-value persistence collaborator. Get omits
// absent keys; Set merges the given keys into the store.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Close() error
}

type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

type Options struct {
	Backend     Backend
	StateDir    string
	RedisAddr   string
	RedisPrefix string
}

// Open returns the store selected by opts.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendJSON, "":
		return NewJSONStore(filepath.Join(opts.StateDir, "storage.json"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(opts.StateDir, "storage.db"))
	case BackendRedis:
		return NewRedisStore(NewRedisClient(opts.RedisAddr), opts.RedisPrefix), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}
