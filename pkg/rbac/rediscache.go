package rbac

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alanvitalp/road-to-next/pkg/observability"
)

const redisKeyPrefix = "authz:snapshot:"

// redisCache is a shared snapshot cache for multi-instance deployments:
// an invalidation performed by one instance is seen by all of them. Cache
// failures degrade to misses; the resolver then reads the database.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// opTimeout bounds each cache round trip so a slow Redis cannot stall
// permission checks.
const opTimeout = 3 * time.Second

func newRedisCache(client *redis.Client, ttl time.Duration, logger *observability.Logger) *redisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient connects to Redis at url and verifies the connection.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func redisKey(userID, orgID string) string {
	return redisKeyPrefix + snapshotKey(userID, orgID)
}

func (c *redisCache) get(userID, orgID string) (*memberSnapshot, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	key := redisKey(userID, orgID)
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("snapshot cache read failed")
		return nil, false
	}

	var snap *memberSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		// Corrupt entry; drop it and fall through to the database.
		c.client.Del(ctx, key)
		c.logger.WithError(err).Warn("dropping corrupt snapshot cache entry")
		return nil, false
	}
	return snap, true
}

func (c *redisCache) put(userID, orgID string, snap *memberSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.WithError(err).Warn("failed to marshal snapshot for cache")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, redisKey(userID, orgID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("snapshot cache write failed")
	}
}

func (c *redisCache) invalidate(userID, orgID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, redisKey(userID, orgID)).Err(); err != nil {
		c.logger.WithError(err).Warn("snapshot cache invalidation failed")
	}
}

func (c *redisCache) invalidateOrg(orgID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pattern := redisKeyPrefix + "*|" + orgID
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.WithError(err).Warn("snapshot cache invalidation failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("snapshot cache scan failed")
	}
}
