// Package redis implements lock.Manager with Redis SETNX locks so several
// ledger instances can share one account store.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"futarchy-lobbyist/internal/lock"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Config holds connection and lock parameters.
type Config struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool

	KeyPrefix     string        // default "lobbyist:lock:"
	TTL           time.Duration // lock expiry, default 30s
	RetryInterval time.Duration // poll interval while waiting, default 25ms
}

// Manager implements lock.Manager using Redis.
type Manager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	prefix   string
	ttl      time.Duration
	retry    time.Duration
}

// New connects to Redis, verifies connectivity and returns a Manager.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return NewWithClient(rdb, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, cfg Config) *Manager {
	m := &Manager{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		prefix:   cfg.KeyPrefix,
		ttl:      cfg.TTL,
		retry:    cfg.RetryInterval,
	}
	if m.prefix == "" {
		m.prefix = "lobbyist:lock:"
	}
	if m.ttl <= 0 {
		m.ttl = 30 * time.Second
	}
	if m.retry <= 0 {
		m.retry = 25 * time.Millisecond
	}
	return m
}

// Close closes the Redis connection.
func (m *Manager) Close() error {
	return m.rdb.Close()
}

// Acquire polls SETNX until the key is free or ctx is done.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	lk := m.prefix + key

	ticker := time.NewTicker(m.retry)
	defer ticker.Stop()

	for {
		ok, err := m.rdb.SetNX(ctx, lk, token, m.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(lock.ErrLockHeld, ctxErr)
			}
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(lock.ErrLockHeld, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Background context so the release survives a cancelled caller.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = m.unlockSc.Run(unlockCtx, m.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ lock.Manager = (*Manager)(nil)
