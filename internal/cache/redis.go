package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nnipa/authz-service/pkg/types"
)

// scanBatch is how many keys a single SCAN iteration asks Redis for when
// invalidating by prefix.
const scanBatch = 100

// RedisCache is a decision cache backed by Redis so every instance of the
// service shares one view of cached decisions and invalidations.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       int64 // nanoseconds, read atomically so SetTTL can retune it live

	hits   uint64
	misses uint64
}

// NewRedisCache creates a Redis-backed decision cache on an existing client.
func NewRedisCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       int64(ttl),
	}
}

// RedisOptions configures a standalone Redis connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(opts RedisOptions) (redis.UniversalClient, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Get retrieves a cached decision.
func (c *RedisCache) Get(ctx context.Context, req *types.AuthzRequest) (*types.AuthzResponse, bool) {
	data, err := c.client.Get(ctx, c.keyPrefix+decisionKey(req)).Bytes()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var resp types.AuthzResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return &resp, true
}

// Set caches a decision with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, req *types.AuthzRequest, resp *types.AuthzResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ttl := time.Duration(atomic.LoadInt64(&c.ttl))
	c.client.Set(ctx, c.keyPrefix+decisionKey(req), data, ttl)
}

// SetTTL retunes the lifetime applied to entries cached from now on.
func (c *RedisCache) SetTTL(ttl time.Duration) {
	atomic.StoreInt64(&c.ttl, int64(ttl))
}

// InvalidateUser drops every cached decision for the user within the tenant.
func (c *RedisCache) InvalidateUser(ctx context.Context, tenantID, userID uuid.UUID) int {
	return c.deleteByPattern(ctx, c.keyPrefix+userPrefix(tenantID, userID)+"*")
}

// InvalidateTenant drops every cached decision for the tenant.
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) int {
	return c.deleteByPattern(ctx, c.keyPrefix+tenantPrefix(tenantID)+"*")
}

// Clear drops all cached decisions under this cache's prefix.
func (c *RedisCache) Clear(ctx context.Context) {
	c.deleteByPattern(ctx, c.keyPrefix+"decision:*")
}

func (c *RedisCache) deleteByPattern(ctx context.Context, pattern string) int {
	deleted := 0
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			deleted += c.deleteKeys(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		deleted += c.deleteKeys(ctx, batch)
	}
	return deleted
}

func (c *RedisCache) deleteKeys(ctx context.Context, keys []string) int {
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Stats returns cache statistics. Size is the whole database's key count
// since Redis cannot cheaply count by prefix.
func (c *RedisCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	size := 0
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n, err := c.client.DBSize(ctx).Result(); err == nil {
		size = int(n)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
