package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "courier:presence:"

// HINCRBY then clamp: a result below zero means the field was already empty.
var decrementScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if v <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
if v < 0 then
  return -1
end
return v
`)

// RedisStore keeps counts in one hash per tenant so several processes can share them.
// Counts held by a crashed process are never released; treat the result as a hint.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func tenantKey(tenantID string) string {
	return redisKeyPrefix + tenantID
}

// Increment implements CounterStore.
func (s *RedisStore) Increment(ctx context.Context, tenantID, userID string) (int64, error) {
	count, err := s.client.HIncrBy(ctx, tenantKey(tenantID), userID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("presence: redis increment: %w", err)
	}
	return count, nil
}

// Decrement implements CounterStore.
func (s *RedisStore) Decrement(ctx context.Context, tenantID, userID string) (int64, bool, error) {
	result, err := decrementScript.Run(ctx, s.client, []string{tenantKey(tenantID)}, userID).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("presence: redis decrement: %w", err)
	}
	if result < 0 {
		return 0, true, nil
	}
	return result, false, nil
}

// Online implements CounterStore.
func (s *RedisStore) Online(ctx context.Context, tenantID string) ([]string, error) {
	values, err := s.client.HGetAll(ctx, tenantKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: redis online: %w", err)
	}
	online := make([]string, 0, len(values))
	for userID, raw := range values {
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || count <= 0 {
			continue
		}
		online = append(online, userID)
	}
	sort.Strings(online)
	return online, nil
}
