package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRecordLockTTL         = 30 * time.Second
	defaultWriteBackAttempts     = 5
	defaultWriteBackInitialDelay = 50 * time.Millisecond
	defaultWriteBackMaxDelay     = time.Second
)

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultWriteBackInitialDelay
	}
	max := s.Max
	if max <= 0 {
		max = defaultWriteBackMaxDelay
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// MemoryRecordLocker serializes writers per record key inside one process.
// Acquire fails immediately when the key is held.
type MemoryRecordLocker struct {
	mu        sync.Mutex
	locks     map[string]memoryLease
	nextLease uint64
	nowFn     func() time.Time
}

type memoryLease struct {
	id    uint64
	until time.Time
}

func NewMemoryRecordLocker() *MemoryRecordLocker {
	return &MemoryRecordLocker{
		locks: make(map[string]memoryLease),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryRecordLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: record locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: record key is required for lock acquisition")
	}
	if ttl <= 0 {
		ttl = defaultRecordLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.locks[key]; ok && now.Before(lease.until) {
		return nil, fmt.Errorf("%w: lock already held for authorization %q", ErrConflict, key)
	}
	l.nextLease++
	l.locks[key] = memoryLease{id: l.nextLease, until: now.Add(ttl)}
	return &memoryLockHandle{locker: l, key: key, lease: l.nextLease}, nil
}

type memoryLockHandle struct {
	locker *MemoryRecordLocker
	key    string
	lease  uint64
	once   sync.Once
}

// Unlock releases the key only while this handle's lease still owns it. An
// expired lease taken over by another writer is left alone.
func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		defer h.locker.mu.Unlock()
		if current, ok := h.locker.locks[h.key]; ok && current.id == h.lease {
			delete(h.locker.locks, h.key)
		}
	})
	return nil
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
