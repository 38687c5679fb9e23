package kvcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt int64
}

// Memory is the in-process Cache used by tests and by deployments that do
// not need persistence across restarts.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	nowFn func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		items: make(map[string]memoryEntry),
		nowFn: now,
	}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	key = strings.TrimSpace(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expiresAt > 0 && c.nowFn().UTC().Unix() >= entry.expiresAt {
		delete(c.items, key)
		return nil, false, nil
	}
	cp := append([]byte(nil), entry.value...)
	return cp, true, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	c.mu.Lock()
	c.items[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryUnix(c.nowFn().UTC(), ttl),
	}
	c.mu.Unlock()
	return nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}
