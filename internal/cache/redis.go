package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/product-juke/Kalla-Transporter-sub000/config"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/models"
)

// orderTTL bounds staleness between an external write and the next
// invalidation.
const orderTTL = 10 * time.Minute

// RedisCache is the delivery order read cache. Disabled instances accept
// every call and always miss.
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// OrderCacheKey generates the cache key for a delivery order.
func OrderCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("delivery_order:%s", id.String())
}

// GetOrder returns the cached order and whether it was found.
func (c *RedisCache) GetOrder(ctx context.Context, id uuid.UUID) (*models.DeliveryOrder, bool) {
	if !c.enabled {
		return nil, false
	}

	data, err := c.client.Get(ctx, OrderCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("delivery_order_id", id.String()).Msg("Redis read failed")
		}
		return nil, false
	}

	var order models.DeliveryOrder
	if err := json.Unmarshal(data, &order); err != nil {
		log.Warn().Err(err).Str("delivery_order_id", id.String()).Msg("Failed to decode cached order")
		return nil, false
	}
	return &order, true
}

// SetOrder caches an order.
func (c *RedisCache) SetOrder(ctx context.Context, order *models.DeliveryOrder) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(order)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order for caching")
	}

	if err := c.client.Set(ctx, OrderCacheKey(order.ID), data, orderTTL).Err(); err != nil {
		return errors.Wrap(err, "failed to cache order")
	}
	return nil
}

// Invalidate drops the cached order after a state change.
func (c *RedisCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if !c.enabled {
		return nil
	}

	if err := c.client.Del(ctx, OrderCacheKey(id)).Err(); err != nil {
		return errors.Wrap(err, "failed to invalidate cached order")
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}

	return c.client.Close()
}
