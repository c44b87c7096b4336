package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker keeps periodic jobs from running on more than one replica at once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// LocalLocker is used when no Redis is configured: a single instance always
// holds the lock.
type LocalLocker struct{}

func (LocalLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (LocalLocker) Release(context.Context, string) error                        { return nil }

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
	prefix string
	token  string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, token: uuid.NewString()}
}

// Connect builds a Redis client from a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
