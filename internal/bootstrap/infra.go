package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/config"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

const redisPingTimeout = 5 * time.Second

// SetupDatabase opens the Postgres pool.
func SetupDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	db, err := database.NewPostgresConnection(ctx, database.Config{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnectionMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	return db, nil
}

// SetupRedis connects to Redis. It returns nil when Redis is not configured
// or not reachable; callers then run without locks and events.
func SetupRedis(ctx context.Context, cfg *config.Config, log logger.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		log.Info("Redis not configured, locks and events disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		log.Warn("Redis not available, locks and events disabled",
			logger.String("redis_address", cfg.Redis.Address),
			logger.Error(err),
		)
		return nil
	}

	log.Info("Redis connected", logger.String("redis_address", cfg.Redis.Address))
	return client
}
