package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"lucky-wheel/internal/models"
)

// Day hashes outlive their day long enough for the admin views.
const redisDayTTL = 72 * time.Hour

var consumeScript = redis.NewScript(`
local limit = redis.call('HGET', KEYS[1], 'limit')
if not limit then
  limit = ARGV[1]
  redis.call('HSET', KEYS[1], 'limit', limit, 'used', 0)
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
limit = tonumber(limit)
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
if used < limit then
  used = redis.call('HINCRBY', KEYS[1], 'used', 1)
  return {1, used, limit}
end
return {0, used, limit}
`)

// RedisCounter keeps one hash per day with used and limit fields.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "wheel:quota:"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(day string) string {
	return c.prefix + day
}

func (c *RedisCounter) PeekDailyQuota(ctx context.Context, day string, limit int) (models.DailyQuotaRecord, error) {
	rec := models.DailyQuotaRecord{Day: day, Limit: limit}
	vals, err := c.client.HMGet(ctx, c.key(day), "used", "limit").Result()
	if err != nil {
		return models.DailyQuotaRecord{}, fmt.Errorf("failed to hmget %s: %w", c.key(day), err)
	}
	if s, ok := vals[0].(string); ok {
		if rec.Used, err = strconv.Atoi(s); err != nil {
			return models.DailyQuotaRecord{}, err
		}
	}
	if s, ok := vals[1].(string); ok {
		if rec.Limit, err = strconv.Atoi(s); err != nil {
			return models.DailyQuotaRecord{}, err
		}
	}
	return rec, nil
}

func (c *RedisCounter) ConsumeDailyQuota(ctx context.Context, day string, limit int, _ time.Time) (bool, models.DailyQuotaRecord, error) {
	res, err := consumeScript.Run(ctx, c.client, []string{c.key(day)}, limit, int(redisDayTTL.Seconds())).Int64Slice()
	if err != nil {
		return false, models.DailyQuotaRecord{}, fmt.Errorf("failed to consume quota %s: %w", c.key(day), err)
	}
	if len(res) != 3 {
		return false, models.DailyQuotaRecord{}, fmt.Errorf("consume quota %s: unexpected reply %v", c.key(day), res)
	}
	return res[0] == 1, models.DailyQuotaRecord{Day: day, Used: int(res[1]), Limit: int(res[2])}, nil
}

func (c *RedisCounter) SetDailyLimit(ctx context.Context, day string, limit int, _ time.Time) error {
	key := c.key(day)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "limit", limit)
		pipe.HSetNX(ctx, key, "used", 0)
		pipe.Expire(ctx, key, redisDayTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set limit %s: %w", key, err)
	}
	return nil
}
