package ratelimit

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Keys are sorted sets of event ids scored by their time in milliseconds.
const redisKeyPrefix = "petitions:rate_limit:"

// hitScript trims the set, checks every window and records the event in a
// single atomic step.
//
//	KEYS[1]  sorted set for the fingerprint
//	ARGV[1]  member id for the new event
//	ARGV[2]  now, in ms
//	ARGV[3]  highest score to discard
//	ARGV[4]  key expiry, in ms
//	ARGV[5+] pairs of (rate, exclusive lower bound) per window
var hitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
for i = 5, #ARGV, 2 do
  local count = redis.call('ZCOUNT', KEYS[1], ARGV[i + 1], '+inf')
  if count >= tonumber(ARGV[i]) then
    return (i - 5) / 2
  end
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return -1
`)

// RedisStore keeps rate-limit events in redis, so that several server
// processes share counters.
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore wraps a redis client.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClientFromEnv builds a client from REDIS_ADDR, REDIS_PASSWORD and
// REDIS_DB and checks that the server answers.
func NewRedisClientFromEnv(ctx context.Context) (*redis.Client, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	db := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		n, err := strconv.Atoi(dbStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be a number: %v", err)
		}
		db = n
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func millis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

// Hit [interface Store] runs hitScript for key.
func (r *RedisStore) Hit(ctx context.Context, key string, now time.Time, windows []Window) (int, error) {
	var retention time.Duration
	for _, w := range windows {
		if w.Period > retention {
			retention = w.Period
		}
	}
	nowMs := millis(now)
	args := []interface{}{
		uuid.NewString(),
		nowMs,
		nowMs - int64(retention/time.Millisecond),
		int64(retention / time.Millisecond),
	}
	for _, w := range windows {
		args = append(args, w.Rate, fmt.Sprintf("(%d", nowMs-int64(w.Period/time.Millisecond)))
	}
	blocked, err := hitScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, args...).Int()
	if err != nil {
		return -1, err
	}
	return blocked, nil
}

// Prune [interface Store] is a no-op: every Hit trims its own key and keys
// expire once their newest event is older than the longest window.
func (r *RedisStore) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
