// Package store wraps the auxiliary Redis client. Its only current
// collaborator is the connection registry's rate limiter (via Client());
// it is never the source of truth for any spec invariant — the relational
// store and each room's serial executor are.
package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is the auxiliary cache collaborator.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore builds the client without dialing: connections are opened
// lazily on first use, so it does not block on connectivity.
func NewRedisStore(addr, password string, db int, logger *zap.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStore{
		client: rdb,
		logger: logger,
	}
}

// Client exposes the underlying client, e.g. for wiring an
// ulule/limiter redis store driver.
func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ping checks Redis connectivity. The health endpoint does not call it.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
