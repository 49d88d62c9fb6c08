package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claim marks key as seen for ttl. It returns false when the key was already
// claimed, in a single round trip (SET NX).
func Claim(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Release undoes a Claim, so a failed message can be processed again.
func Release(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}

// setIfNewer stores a versioned entry unless the cached one is newer, so a
// slow reader can never put back a state older than the last write.
//   KEYS[1] cache key
//   ARGV[1] version, ARGV[2] JSON body, ARGV[3] ttl in ms
var setIfNewer = redis.NewScript(`
	local cur = redis.call('HGET', KEYS[1], 'version')
	if cur and tonumber(cur) > tonumber(ARGV[1]) then
		return 0
	end
	redis.call('HSET', KEYS[1], 'version', ARGV[1], 'body', ARGV[2])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	return 1
`)

// SetIfNewer caches v at version. It reports false when a newer version was
// already cached and left in place.
func SetIfNewer(ctx context.Context, rdb *redis.Client, key string, version int64, v any, ttl time.Duration) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	n, err := setIfNewer.Run(ctx, rdb, []string{key}, version, b, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cache %s: %w", key, err)
	}
	return n == 1, nil
}

// GetVersioned loads an entry written by SetIfNewer. found is false on a miss.
func GetVersioned(ctx context.Context, rdb *redis.Client, key string, out any) (found bool, err error) {
	b, err := rdb.HGet(ctx, key, "body").Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func PublishJSON(ctx context.Context, rdb *redis.Client, channel string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, channel, b).Err()
}
