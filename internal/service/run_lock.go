package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tejasbhor/Civiclens/internal/config"
)

// RunLock guarantees that at most one clustering run executes at a time.
type RunLock interface {
	// Acquire takes the lock or fails with ErrRunInProgress. The returned
	// function releases it.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// LocalRunLock is a RunLock for a single process.
type LocalRunLock struct {
	mu   sync.Mutex
	held bool
}

// NewLocalRunLock creates an unheld LocalRunLock.
func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{}
}

// Acquire implements RunLock.
func (l *LocalRunLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrRunInProgress
	}
	l.held = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// releaseScript deletes the lock key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock is a RunLock shared by every process using the same Redis.
// The key expires after ttl so a crashed run cannot hold it forever.
type RedisRunLock struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

// NewRedisRunLock connects to Redis and verifies it with a ping.
func NewRedisRunLock(cfg *config.RedisConfig) (*RedisRunLock, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	key := cfg.LockKey
	if key == "" {
		key = "civiclens:cluster-run"
	}
	return &RedisRunLock{rdb: rdb, key: key, ttl: ttl}, nil
}

// Acquire implements RunLock.
func (l *RedisRunLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		return nil
	}, nil
}

// Close closes the Redis client.
func (l *RedisRunLock) Close() error {
	return l.rdb.Close()
}
