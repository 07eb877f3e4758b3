package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const DefaultSize = 1024

// KeyValueCache is shared by document loading and the caching fetcher.
type KeyValueCache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	// Set stores value for ttl. A zero ttl never expires.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// LRU is an in-memory KeyValueCache with per-entry expiry.
type LRU struct {
	mu    sync.Mutex
	items *lru.Cache[string, entry]
	now   func() time.Time
}

var _ KeyValueCache = (*LRU)(nil)

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = DefaultSize
	}
	items, err := lru.New[string, entry](size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lru cache")
	}
	return &LRU{items: items, now: time.Now}, nil
}

func (c *LRU) Get(_ context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.items.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *LRU) Set(_ context.Context, key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.items.Add(key, e)
}

func (c *LRU) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Remove(key)
}

func (c *LRU) Len() int {
	return c.items.Len()
}
