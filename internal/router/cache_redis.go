package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"kycflow/pkg/domain"
)

// RedisCache shares routing decisions across instances so a retry
// landing on another node still sticks to the same vendor.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache wraps a redis client as a DecisionCache.
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger}
}

func cacheKey(subject domain.SubjectID) string {
	return "kyc:decision:" + subject.String()
}

func (c *RedisCache) Get(ctx context.Context, subject domain.SubjectID) (domain.VendorID, bool) {
	raw, err := c.client.Get(ctx, cacheKey(subject)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("decision cache read failed", "error", err)
		}
		return "", false
	}
	vendor, err := domain.ParseVendorID(raw)
	if err != nil {
		return "", false
	}
	return vendor, true
}

func (c *RedisCache) Put(ctx context.Context, subject domain.SubjectID, vendor domain.VendorID, ttl time.Duration) {
	if err := c.client.Set(ctx, cacheKey(subject), vendor.String(), ttl).Err(); err != nil {
		c.logger.Warn("decision cache write failed", "error", err)
	}
}

var _ DecisionCache = (*RedisCache)(nil)
