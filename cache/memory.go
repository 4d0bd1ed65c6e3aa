package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/warp/balance-engine/ledger"
)

// Memory is an in-process HotCache. Expiry is checked lazily on read
// against the injected clock, so tests can move time forward.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   ledger.Clock

	// Err, when set, is returned by every call.
	Err error
}

type memoryEntry struct {
	value   ledger.CachedBalance
	expires time.Time
}

func NewMemory(clock ledger.Clock) *Memory {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &Memory{entries: make(map[string]memoryEntry), clock: clock}
}

func (c *Memory) Get(ctx context.Context, key string) (ledger.CachedBalance, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(ctx); err != nil {
		return ledger.CachedBalance{}, false, err
	}

	e, ok := c.entries[key]
	if !ok {
		return ledger.CachedBalance{}, false, nil
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return ledger.CachedBalance{}, false, nil
	}
	return e.value, true, nil
}

func (c *Memory) Set(ctx context.Context, key string, value ledger.CachedBalance, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(ctx); err != nil {
		return err
	}
	c.entries[key] = memoryEntry{value: value, expires: c.clock.Now().Add(ttl)}
	return nil
}

func (c *Memory) DeletePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure(ctx); err != nil {
		return err
	}
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// TTL returns the remaining lifetime of key, or 0 if absent.
func (c *Memory) TTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0
	}
	return e.expires.Sub(c.clock.Now())
}

func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Memory) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure(ctx)
}

func (c *Memory) failure(ctx context.Context) error {
	if c.Err != nil {
		return c.Err
	}
	return ctx.Err()
}
