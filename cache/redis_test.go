package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/ledger"
)

// newTestRedis connects to TEST_REDIS_ADDR, or skips.
func newTestRedis(t *testing.T) *Redis {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c, err := NewRedis(RedisOptions{Addrs: []string{addr}, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	id := ledger.NewAccountID()
	key := ledger.CacheKey(id, ledger.NewDate(2025, time.June, 14))
	value := ledger.CachedBalance{Amount: "70.00", Currency: "BRL", Source: ledger.SourceCalculated}

	require.NoError(t, c.Set(ctx, key, value, ledger.HistoricalTTL))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)

	ttl, err := c.TTL(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, ledger.HistoricalTTL.Seconds(), ttl.Seconds(), 5)

	_, ok, err = c.Get(ctx, ledger.CacheKey(id, ledger.NewDate(2025, time.June, 13)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_DeletePrefix(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	a, b := ledger.NewAccountID(), ledger.NewAccountID()
	day := ledger.NewDate(2025, time.June, 1)
	for i := 0; i < 300; i++ {
		require.NoError(t, c.Set(ctx, ledger.CacheKey(a, day.AddDays(i)), ledger.CachedBalance{Amount: "1", Currency: "BRL"}, time.Minute))
	}
	require.NoError(t, c.Set(ctx, ledger.CacheKey(b, day), ledger.CachedBalance{Amount: "2", Currency: "BRL"}, time.Minute))

	require.NoError(t, c.DeletePrefix(ctx, ledger.AccountCachePrefix(a)))

	_, ok, err := c.Get(ctx, ledger.CacheKey(a, day.AddDays(150)))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = c.Get(ctx, ledger.CacheKey(b, day))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisOptions{})
	assert.Error(t, err)
}
