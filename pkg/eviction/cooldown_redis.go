package eviction

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/lethe/pkg/config"
)

// RedisCooldowns shares quarantine state between daemons through Redis
// keys with a TTL.
type RedisCooldowns struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldowns wraps an existing client.
func NewRedisCooldowns(client *redis.Client, prefix string) *RedisCooldowns {
	return &RedisCooldowns{client: client, prefix: prefix}
}

// DialRedis connects to Redis and checks the connection.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (r *RedisCooldowns) key(itemID string) string {
	return r.prefix + itemID
}

// Quarantine implements CooldownStore.
func (r *RedisCooldowns) Quarantine(ctx context.Context, itemID string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(itemID), time.Now().Add(d).UTC().Format(time.RFC3339), d).Err(); err != nil {
		return fmt.Errorf("failed to quarantine %s: %w", itemID, err)
	}
	return nil
}

// Cooling implements CooldownStore.
func (r *RedisCooldowns) Cooling(ctx context.Context, itemID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(itemID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cooldown of %s: %w", itemID, err)
	}
	return n > 0, nil
}
