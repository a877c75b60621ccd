package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld is returned when another holder owns the lock
	ErrLockHeld = errors.New("lock is held by another runner")

	// ErrLockLost is returned when releasing a lock that expired or was taken over
	ErrLockLost = errors.New("lock no longer held")
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisCache wraps the Redis client used for run coordination
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// Config holds Redis configuration
type Config struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(client, cfg.KeyPrefix), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// Lock is a held distributed lock
type Lock struct {
	cache *RedisCache
	key   string
	token string
}

// AcquireLock takes key for ttl. It fails with ErrLockHeld when another
// holder has it; the TTL bounds how long a crashed holder blocks others.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	fullKey := c.buildKey("lock:" + key)
	token := uuid.New().String()

	ok, err := c.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &Lock{cache: c, key: fullKey, token: token}, nil
}

// Release gives the lock up if it is still ours
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.cache.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Token returns the random value identifying this holder
func (l *Lock) Token() string {
	return l.token
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}

// Health checks the health of the cache
func (c *RedisCache) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// buildKey builds the full cache key with prefix
func (c *RedisCache) buildKey(key string) string {
	if c.keyPrefix != "" {
		return fmt.Sprintf("%s:%s", c.keyPrefix, key)
	}
	return key
}
