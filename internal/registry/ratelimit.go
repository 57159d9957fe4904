package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// ErrRateLimited is returned when a connection exceeds its inbound frame
// budget; callers report this as an error frame without closing.
var ErrRateLimited = fmt.Errorf("registry: rate limit exceeded")

// RateLimiter enforces a sliding-window budget of RATE_LIMIT_MAX frames per
// RATE_LIMIT_WINDOW, keyed per connection. Backed by Redis (so the budget
// survives process restarts) with an in-memory fallback for tests and
// single-process development.
type RateLimiter struct {
	limiter *limiter.Limiter
}

// NewRateLimiter builds a rate limiter against redisClient, or an
// in-memory store if redisClient is nil.
func NewRateLimiter(redisClient *redis.Client, max int, window time.Duration, logger *zap.Logger) (*RateLimiter, error) {
	rate := limiter.Rate{
		Period: window,
		Limit:  int64(max),
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "quiz:ratelimit:",
		})
		if err != nil {
			return nil, fmt.Errorf("registry: build redis rate limit store: %w", err)
		}
		store = s
		logger.Info("rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logger.Warn("rate limiter using in-memory store (no redis configured)")
	}

	return &RateLimiter{limiter: limiter.New(store, rate)}, nil
}

// Allow checks and increments the budget for key (typically a connection
// id). A store failure fails open — availability over strict enforcement,
// matching the recovery policy for non-authoritative collaborators.
func (rl *RateLimiter) Allow(ctx context.Context, key string) error {
	res, err := rl.limiter.Get(ctx, key)
	if err != nil {
		return nil
	}
	if res.Reached {
		return ErrRateLimited
	}
	return nil
}
