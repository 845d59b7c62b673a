package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL        = 10 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
	keyPrefix         = "docvault:lock:"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// redisClient is the part of *redis.Client the locker uses.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker is a Locker shared by every process using the same Redis.
// A lock expires after TTL if its holder dies.
type RedisLocker struct {
	client     redisClient
	ttl        time.Duration
	retryDelay time.Duration
}

func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl, retryDelay: defaultRetryDelay}
}

// NewRedisClient returns a connected Redis client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// Lock polls SET NX PX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}
	redisKey := keyPrefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err()
	}, nil
}
