package core

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"limscore/internal/infra/persistence/memory"
	"limscore/internal/infra/persistence/postgres"
	"limscore/internal/infra/persistence/redis"
	"limscore/internal/infra/persistence/sqlite"
	"limscore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageRedis    StorageDriver = "redis"    // snapshot in a redis key
)

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	Driver      StorageDriver `mapstructure:"driver" validate:"omitempty,oneof=memory sqlite postgres redis"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisKey    string        `mapstructure:"redis_key"`
}

// OpenPersistentStore builds the backend named by cfg.Driver. It defaults to
// sqlite when unset.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := StorageDriver(strings.ToLower(string(cfg.Driver)))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageRedis:
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		store, err := redis.NewStore(ctx, &goredis.Options{Addr: addr}, cfg.RedisKey, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
