package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"restyle/internal/domain"
	"restyle/internal/infra"
)

const summaryTTL = 5 * time.Minute

// RedisCache stores usage summaries in redis with a short TTL. A redis
// failure is treated as a miss so the ledger still answers from the database.
type RedisCache struct {
	client *redis.Client
	logger infra.Logger
}

// NewRedisCache wraps an existing redis client. Returns nil for a nil client
// so callers can pass the result straight to WithCache.
func NewRedisCache(client *redis.Client, logger infra.Logger) *RedisCache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client, logger: logger}
}

func summaryKey(userID, period string) string {
	return fmt.Sprintf("usage:summary:%s:%s", userID, period)
}

func (c *RedisCache) GetSummary(ctx context.Context, userID, period string) (domain.UsageSummary, bool) {
	raw, err := c.client.Get(ctx, summaryKey(userID, period)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("usage cache: get failed")
		}
		return domain.UsageSummary{}, false
	}
	var summary domain.UsageSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return domain.UsageSummary{}, false
	}
	return summary, true
}

func (c *RedisCache) SetSummary(ctx context.Context, userID, period string, summary domain.UsageSummary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, summaryKey(userID, period), raw, summaryTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("usage cache: set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID, period string) {
	if err := c.client.Del(ctx, summaryKey(userID, period)).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("usage cache: invalidate failed")
	}
}

var _ Cache = (*RedisCache)(nil)
