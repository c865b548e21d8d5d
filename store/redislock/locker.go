// Package redislock serializes authorization writers across processes with
// Redis leases. A held lease fails fast with core.ErrConflict, matching
// core.MemoryRecordLocker.
package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-authorizations/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "go-authorizations::lock::"
	defaultLeaseTTL  = 30 * time.Second
)

// releaseScript deletes the lease only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Client is the subset of go-redis used by the locker. *redis.Client,
// *redis.ClusterClient and redis.UniversalClient satisfy it.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Option func(*Locker)

func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			l.prefix = prefix
		}
	}
}

func WithTokenSource(next func() string) Option {
	return func(l *Locker) {
		if next != nil {
			l.token = next
		}
	}
}

type Locker struct {
	client Client
	prefix string
	token  func() string
}

func New(client Client, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redislock: redis client is required")
	}
	locker := &Locker{
		client: client,
		prefix: DefaultKeyPrefix,
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redislock: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redislock: record key is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}

	leaseKey := l.prefix + key
	token := l.token()
	acquired, err := l.client.SetNX(ctx, leaseKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %q: %w", key, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: lock already held for authorization %q", core.ErrConflict, key)
	}
	return &lease{client: l.client, key: leaseKey, token: token}, nil
}

type lease struct {
	client   Client
	key      string
	token    string
	released bool
}

// Unlock releases the lease. A lease that already expired or was taken over
// is left alone.
func (h *lease) Unlock(ctx context.Context) error {
	if h == nil || h.released {
		return nil
	}
	h.released = true
	if err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redislock: release %q: %w", h.key, err)
	}
	return nil
}

var _ core.RecordLocker = (*Locker)(nil)
