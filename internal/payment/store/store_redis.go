package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"payhub/internal/payment/ports"
	"payhub/pkg/platform/sentinel"
)

var cacheOpDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "payhub_payment_cache_op_duration_ms",
	Help:    "Latency of payment cache operations in milliseconds",
	Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 100, 500},
}, []string{"op"})

const scanBatch = 256

// RedisCache is a Redis-backed CacheStore. CreateIfAbsent maps to SET NX so
// concurrent submitters across instances race inside Redis, not here.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	defer observe("get", time.Now())
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", err)
	}
	return v, true, nil
}

// CreateIfAbsent stores value with no expiry; payment records live until
// explicitly deleted.
func (c *RedisCache) CreateIfAbsent(ctx context.Context, key, value string) (bool, error) {
	defer observe("create", time.Now())
	created, err := c.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return created, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	defer observe("delete", time.Now())
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// ListByPrefix walks the keyspace with SCAN rather than KEYS so large
// keyspaces do not block the server.
func (c *RedisCache) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	defer observe("scan", time.Now())
	var keys []string
	iter := c.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan", err)
	}
	return keys, nil
}

func observe(op string, start time.Time) {
	cacheOpDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", sentinel.ErrUnavailable, op, err)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var _ ports.CacheStore = (*RedisCache)(nil)
