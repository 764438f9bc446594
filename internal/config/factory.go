package config

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/backend/memory"
	"github.com/roach88/recstore/internal/backend/redis"
	"github.com/roach88/recstore/internal/backend/sqlite"
)

// OpenFactory builds the backend named by c.Backend. A redis backend is
// pinged before it is returned.
func OpenFactory(ctx context.Context, c Config) (backend.Factory, error) {
	switch c.Backend {
	case BackendSQLite:
		return sqlite.NewFactory(c.DataDir)
	case BackendMemory:
		return memory.NewFactory(), nil
	case BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", c.Redis.Addr, err)
		}
		return redis.NewFactory(client, redis.WithPrefix(c.Redis.Prefix)), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
}
