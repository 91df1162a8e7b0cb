package klaviyo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andzen/prospect-audit/internal/pkg/logger"
)

// redisCacheTTL bounds how long report responses stay warm; a run completes
// well within it.
const redisCacheTTL = 30 * time.Minute

// RedisReportCache shares report responses across processes, for
// deployments where several audit workers hit the same account. Failures
// degrade to cache misses.
type RedisReportCache struct {
	client *redis.Client
	prefix string
}

// NewRedisReportCache connects to Redis and verifies the connection.
func NewRedisReportCache(redisURL string) (*RedisReportCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisReportCache{client: client, prefix: "audit:report:"}, nil
}

// Get returns the cached rows for key, if present and decodable.
func (c *RedisReportCache) Get(ctx context.Context, key string) ([]ReportRow, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var rows []ReportRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// Put stores rows under key with a TTL. Errors are logged and swallowed;
// the cache is an optimization, never a dependency.
func (c *RedisReportCache) Put(ctx context.Context, key string, rows []ReportRow) {
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, redisCacheTTL).Err(); err != nil {
		logger.Warn("klaviyo.cache", "redis_put_failed", "error", err.Error())
	}
}

// Close releases the Redis connection.
func (c *RedisReportCache) Close() error {
	return c.client.Close()
}
