package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jaewoo-shin/civicdedup/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetIncident(ctx context.Context, inc *models.Incident, ttl time.Duration) error
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, bool, error)
	InvalidateIncident(ctx context.Context, id uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetIncident caches a read-side incident snapshot. Writers invalidate on
// every link/create/close, so a hit is at worst ttl-stale after a crash.
func (c *RedisCache) SetIncident(ctx context.Context, inc *models.Incident, ttl time.Duration) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, IncidentKey(inc.ID), payload, ttl).Err()
}

func (c *RedisCache) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, bool, error) {
	val, err := c.client.Get(ctx, IncidentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var inc models.Incident
	if err := json.Unmarshal(val, &inc); err != nil {
		return nil, false, err
	}
	return &inc, true, nil
}

func (c *RedisCache) InvalidateIncident(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, IncidentKey(id)).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
