package devicecache

import (
	"context"
	"fmt"

	"github.com/nerrad567/webble-core/internal/infrastructure/config"
)

// Open creates the store selected by cfg.Cache.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendSQLite, "":
		s, err := OpenSQLite(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.CacheBackendRedis:
		r, err := OpenRedis(ctx, cfg.Redis, cfg.Cache.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.CacheBackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("devicecache: unknown backend %q", cfg.Cache.Backend)
	}
}
