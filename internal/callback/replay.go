package callback

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyReplay = "dedup:mpesa-callback:%s"
	ttlReplay = 48 * time.Hour
)

// ReplayGuard remembers callbacks the database has already settled so
// that gateway retries can be acknowledged without a transaction.
type ReplayGuard interface {
	Seen(ctx context.Context, checkoutRequestID string) (bool, error)
	Remember(ctx context.Context, checkoutRequestID string) error
}

type RedisReplayGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisReplayGuard(rdb *redis.Client) *RedisReplayGuard {
	return &RedisReplayGuard{rdb: rdb, ttl: ttlReplay}
}

func (g *RedisReplayGuard) Seen(ctx context.Context, checkoutRequestID string) (bool, error) {
	n, err := g.rdb.Exists(ctx, fmt.Sprintf(keyReplay, checkoutRequestID)).Result()
	return n > 0, err
}

func (g *RedisReplayGuard) Remember(ctx context.Context, checkoutRequestID string) error {
	return g.rdb.Set(ctx, fmt.Sprintf(keyReplay, checkoutRequestID), "1", g.ttl).Err()
}
