package pending

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"lucky-wheel/internal/models"
)

var setIfClearScript = redis.NewScript(`
local has = redis.call('HGET', KEYS[1], 'has_pending')
if has == '1' then
  local lease = tonumber(redis.call('HGET', KEYS[1], 'lease_expires_at') or '0')
  local committed = redis.call('HGET', KEYS[1], 'committed')
  local claimed = redis.call('HGET', KEYS[1], 'reward_claimed')
  local expired = lease > 0 and lease <= tonumber(ARGV[3])
  if not expired or (committed == '1' and claimed ~= '1') then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'has_pending', 1, 'variant', ARGV[2], 'committed', 0,
  'reward_claimed', 0, 'updated_at', ARGV[3], 'lease_expires_at', ARGV[4])
redis.call('HSETNX', KEYS[1], 'segment_index', -1)
redis.call('HSETNX', KEYS[1], 'spin_count', 0)
if tonumber(ARGV[4]) > 0 then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
else
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 1
`)

var recordOutcomeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'has_pending') ~= '1' then
  return -1
end
redis.call('HSET', KEYS[1], 'segment_index', ARGV[1], 'spin_id', ARGV[2], 'committed', 1,
  'reward_claimed', 0, 'updated_at', ARGV[3])
return redis.call('HINCRBY', KEYS[1], 'spin_count', 1)
`)

var claimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'has_pending') ~= '1'
  or redis.call('HGET', KEYS[1], 'committed') ~= '1'
  or redis.call('HGET', KEYS[1], 'reward_claimed') == '1' then
  return {}
end
redis.call('HSET', KEYS[1], 'reward_claimed', 1, 'updated_at', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'has_pending') == '1' and redis.call('HGET', KEYS[1], 'spin_id') == ARGV[1] then
  redis.call('HSET', KEYS[1], 'reward_claimed', 0, 'updated_at', ARGV[2])
end
return 1
`)

var clearScript = redis.NewScript(`
local prev = redis.call('HGETALL', KEYS[1])
if redis.call('HGET', KEYS[1], 'has_pending') == '1' then
  redis.call('HSET', KEYS[1], 'has_pending', 0, 'lease_expires_at', 0, 'updated_at', ARGV[2])
end
redis.call('ZREM', KEYS[2], ARGV[1])
return prev
`)

var clearExpiredScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'has_pending') ~= '1' then
  return {}
end
local lease = tonumber(redis.call('HGET', KEYS[1], 'lease_expires_at') or '0')
if lease <= 0 or lease > tonumber(ARGV[2]) then
  return {}
end
redis.call('HSET', KEYS[1], 'has_pending', 0, 'lease_expires_at', 0, 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// RedisBackend keeps one hash per wallet under prefix+"w:" and a sorted
// set of lease deadlines at prefix+"leases", so no wallet can collide
// with the lease set.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "wheel:pending:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(wallet string) string {
	return b.prefix + "w:" + wallet
}

func (b *RedisBackend) leasesKey() string {
	return b.prefix + "leases"
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (b *RedisBackend) SetPendingIfClear(ctx context.Context, wallet string, variant models.VariantID, now, leaseUntil time.Time) (bool, error) {
	n, err := setIfClearScript.Run(ctx, b.client, []string{b.key(wallet), b.leasesKey()},
		wallet, string(variant), millis(now), millis(leaseUntil)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set pending %s: %w", wallet, err)
	}
	return n == 1, nil
}

func (b *RedisBackend) RecordOutcome(ctx context.Context, wallet string, segmentIndex int, spinID string, now time.Time) (int, error) {
	n, err := recordOutcomeScript.Run(ctx, b.client, []string{b.key(wallet)}, segmentIndex, spinID, millis(now)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to record outcome %s: %w", wallet, err)
	}
	if n < 0 {
		return 0, ErrNoPendingSpin
	}
	return n, nil
}

func (b *RedisBackend) ClaimReward(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, bool, error) {
	fields, err := claimScript.Run(ctx, b.client, []string{b.key(wallet)}, millis(now)).StringSlice()
	if err != nil {
		return models.PendingSpinRecord{}, false, fmt.Errorf("failed to claim reward %s: %w", wallet, err)
	}
	if len(fields) == 0 {
		return models.PendingSpinRecord{}, false, nil
	}
	rec, err := parseRecord(wallet, pairs(fields))
	return rec, err == nil, err
}

func (b *RedisBackend) ReleaseReward(ctx context.Context, wallet, spinID string, now time.Time) error {
	if err := releaseScript.Run(ctx, b.client, []string{b.key(wallet)}, spinID, millis(now)).Err(); err != nil {
		return fmt.Errorf("failed to release reward %s: %w", wallet, err)
	}
	return nil
}

func (b *RedisBackend) ClearPending(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, error) {
	fields, err := clearScript.Run(ctx, b.client, []string{b.key(wallet), b.leasesKey()}, wallet, millis(now)).StringSlice()
	if err != nil {
		return models.PendingSpinRecord{}, fmt.Errorf("failed to clear pending %s: %w", wallet, err)
	}
	return parseRecord(wallet, pairs(fields))
}

func (b *RedisBackend) ClearExpiredPending(ctx context.Context, wallet string, now time.Time) (models.PendingSpinRecord, bool, error) {
	fields, err := clearExpiredScript.Run(ctx, b.client, []string{b.key(wallet), b.leasesKey()}, wallet, millis(now)).StringSlice()
	if err != nil {
		return models.PendingSpinRecord{}, false, fmt.Errorf("failed to clear expired %s: %w", wallet, err)
	}
	if len(fields) == 0 {
		return models.PendingSpinRecord{}, false, nil
	}
	rec, err := parseRecord(wallet, pairs(fields))
	return rec, err == nil, err
}

func (b *RedisBackend) GetPending(ctx context.Context, wallet string) (models.PendingSpinRecord, error) {
	fields, err := b.client.HGetAll(ctx, b.key(wallet)).Result()
	if err != nil {
		return models.PendingSpinRecord{}, fmt.Errorf("failed to hgetall %s: %w", b.key(wallet), err)
	}
	return parseRecord(wallet, fields)
}

func (b *RedisBackend) ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]string, error) {
	wallets, err := b.client.ZRangeByScore(ctx, b.leasesKey(), &redis.ZRangeBy{
		Min:   "1",
		Max:   strconv.FormatInt(millis(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	return wallets, nil
}

func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func parseRecord(wallet string, fields map[string]string) (models.PendingSpinRecord, error) {
	rec := models.PendingSpinRecord{Wallet: wallet, SegmentIndex: -1}
	if len(fields) == 0 {
		return rec, nil
	}
	var segment, count, updated, lease int64 = -1, 0, 0, 0
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"segment_index", &segment},
		{"spin_count", &count},
		{"updated_at", &updated},
		{"lease_expires_at", &lease},
	} {
		raw, ok := fields[f.name]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return models.PendingSpinRecord{}, fmt.Errorf("pending %s field %s: %w", wallet, f.name, err)
		}
		*f.dst = v
	}
	rec.HasPendingSpin = fields["has_pending"] == "1"
	rec.Committed = fields["committed"] == "1"
	rec.RewardClaimed = fields["reward_claimed"] == "1"
	rec.Variant = models.VariantID(fields["variant"])
	rec.SpinID = fields["spin_id"]
	rec.SegmentIndex = int(segment)
	rec.SpinCount = int(count)
	if updated > 0 {
		rec.UpdatedAt = time.UnixMilli(updated).UTC()
	}
	if lease > 0 {
		rec.LeaseExpiresAt = time.UnixMilli(lease).UTC()
	}
	return rec, nil
}
