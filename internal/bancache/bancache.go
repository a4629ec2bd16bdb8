// Package bancache answers "is this address banned in this community" from a
// Redis cache, falling back to the database on a miss.
package bancache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BanLookup loads the authoritative ban state when the cache has no answer.
type BanLookup interface {
	GetBan(ctx context.Context, communityID, address string) (reason string, banned bool, err error)
}

type entry struct {
	Banned   bool      `json:"banned"`
	Reason   string    `json:"reason,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

// Cache caches per-(community, address) ban state with a TTL. Both banned and
// not-banned answers are cached so a clean address does not hit the database
// on every write.
type Cache struct {
	client *redis.Client
	lookup BanLookup
	prefix string
	ttl    time.Duration
}

func New(redisURL string, lookup BanLookup, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, lookup, ttl), nil
}

// NewWithClient creates a cache from an existing Redis client.
func NewWithClient(client *redis.Client, lookup BanLookup, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		client: client,
		lookup: lookup,
		prefix: "ban:",
		ttl:    ttl,
	}
}

func (c *Cache) key(communityID, address string) string {
	return c.prefix + communityID + ":" + address
}

// Check reports whether the address is banned in the community. A Redis
// failure is not fatal: the lookup falls through to the database.
func (c *Cache) Check(ctx context.Context, communityID, address string) (string, bool, error) {
	key := c.key(communityID, address)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			return e.Reason, e.Banned, nil
		}
	} else if err != redis.Nil {
		// Cache unavailable; answer from the database without caching.
		return c.lookup.GetBan(ctx, communityID, address)
	}

	reason, banned, err := c.lookup.GetBan(ctx, communityID, address)
	if err != nil {
		return "", false, err
	}

	data, err := json.Marshal(entry{Banned: banned, Reason: reason, CachedAt: time.Now()})
	if err != nil {
		return reason, banned, nil
	}
	_ = c.client.Set(ctx, key, data, c.ttl).Err()

	return reason, banned, nil
}

// Invalidate drops the cached state for one address, for use when a ban is
// added or lifted.
func (c *Cache) Invalidate(ctx context.Context, communityID, address string) error {
	if err := c.client.Del(ctx, c.key(communityID, address)).Err(); err != nil {
		return fmt.Errorf("invalidate ban cache: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
