package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultClaimTTL = 2 * time.Hour

// RedisClaimer claims a document with SETNX so overlapping scans, possibly on
// different workers, dispatch it once per TTL.
type RedisClaimer struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisClaimer(redisURL string, ttl time.Duration) (*RedisClaimer, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RedisClaimer{rdb: redis.NewClient(opts), prefix: "docrag:dispatch:", ttl: ttl}, nil
}

func (c *RedisClaimer) key(uri string) string { return c.prefix + uri }

func (c *RedisClaimer) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisClaimer) Claim(ctx context.Context, uri string) (bool, error) {
	return c.rdb.SetNX(ctx, c.key(uri), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
}

func (c *RedisClaimer) Release(ctx context.Context, uri string) error {
	return c.rdb.Del(ctx, c.key(uri)).Err()
}

func (c *RedisClaimer) Close() error {
	return c.rdb.Close()
}
