package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/p2p-trade-sync/internal/config"
	"github.com/redis/go-redis/v9"
)

// OrderCache is the Redis-backed fast path for deduplication: order numbers
// seen in recent sync passes are remembered with a TTL so most repeats skip
// the Postgres existence check. Cache failures degrade to DB lookups, never
// to data loss.
type OrderCache struct {
	client  *redis.Client
	seenTTL time.Duration
}

// NewOrderCache creates a new Redis cache connection
func NewOrderCache(cfg *config.RedisConfig) (*OrderCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	seenTTL := cfg.SeenTTL
	if seenTTL == 0 {
		seenTTL = 7 * 24 * time.Hour
	}

	return &OrderCache{client: client, seenTTL: seenTTL}, nil
}

// NewOrderCacheFromClient wraps an existing client; used by tests.
func NewOrderCacheFromClient(client *redis.Client, seenTTL time.Duration) *OrderCache {
	return &OrderCache{client: client, seenTTL: seenTTL}
}

// Close closes the Redis connection
func (c *OrderCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Ping checks if Redis is reachable
func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func seenKey(accountID, orderNo string) string {
	return fmt.Sprintf("seen:%s:%s", accountID, orderNo)
}

// SeenRecently reports whether the order was marked seen within the TTL.
func (c *OrderCache) SeenRecently(ctx context.Context, accountID, orderNo string) (bool, error) {
	err := c.client.Get(ctx, seenKey(accountID, orderNo)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkSeen remembers the order for the configured TTL.
func (c *OrderCache) MarkSeen(ctx context.Context, accountID, orderNo string) error {
	return c.client.Set(ctx, seenKey(accountID, orderNo), "1", c.seenTTL).Err()
}
