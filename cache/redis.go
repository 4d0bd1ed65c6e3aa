/*
Package cache provides HotCache implementations for resolved balances.

BACKENDS:
  Redis:   shared across instances, values are JSON
           {"amount":"70.00","currency":"BRL","source":"snapshot"}
  Memory:  per-process map with TTLs (tests, single-node dev)

ERRORS:
  Both return errors honestly. Deciding that a cache error is a miss is
  the caller's job (ledger.Resolver, ledger.Poster), not the cache's.

SEE ALSO:
  - ledger/cache.go: key format and TTL policy
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/balance-engine/ledger"
)

// scanBatch is the COUNT hint for SCAN during prefix deletes.
const scanBatch = 200

// RedisOptions configures NewRedis. More than one address with Cluster set
// uses a cluster client.
type RedisOptions struct {
	Addrs       []string
	Password    string
	DB          int
	Cluster     bool
	DialTimeout time.Duration
}

// Redis implements ledger.HotCache on go-redis.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.New("redis: at least one address is required")
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}

	var rdb redis.UniversalClient
	if opts.Cluster && len(opts.Addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       opts.Addrs,
			Password:    opts.Password,
			DialTimeout: dialTimeout,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:        opts.Addrs[0],
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: dialTimeout,
		})
	}
	return &Redis{client: rdb}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) (ledger.CachedBalance, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.CachedBalance{}, false, nil
	}
	if err != nil {
		return ledger.CachedBalance{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var v ledger.CachedBalance
	if err := json.Unmarshal(raw, &v); err != nil {
		return ledger.CachedBalance{}, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value ledger.CachedBalance, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeletePrefix walks the keyspace with SCAN, never KEYS, so a large
// keyspace does not block the server. On a cluster every master is scanned.
func (c *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := prefix + "*"
	if cc, ok := c.client.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scanDelete(ctx, node, pattern)
		})
	}
	return scanDelete(ctx, c.client, pattern)
}

func scanDelete(ctx context.Context, client redis.Cmdable, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			// One DEL per key: keys of one account land in different slots.
			pipe := client.Pipeline()
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// TTL returns the remaining lifetime of key.
func (c *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.client.TTL(ctx, key).Result()
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}
