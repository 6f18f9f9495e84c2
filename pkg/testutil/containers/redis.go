//go:build integration

package containers

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const defaultRedisImage = "redis:7-alpine"

// RedisContainer is a throwaway Redis server and a client connected to it.
type RedisContainer struct {
	Container testcontainers.Container
	// URL is the redis:// connection string, usable as REDIS_URL.
	URL    string
	Client *redis.Client
}

// NewRedisContainer starts Redis. PAYHUB_TEST_REDIS_IMAGE overrides the image.
// The container is not terminated with t; the Manager shares it and Ryuk
// reaps it when the test binary exits.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	image := os.Getenv("PAYHUB_TEST_REDIS_IMAGE")
	if image == "" {
		image = defaultRedisImage
	}
	container, err := tcredis.Run(ctx, image)
	require.NoError(t, err, "start redis container")

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		require.NoError(t, err, "redis connection string")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		_ = container.Terminate(ctx)
		require.NoError(t, err, "parse redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		require.NoError(t, err, "ping redis")
	}
	return &RedisContainer{Container: container, URL: url, Client: client}
}

// FlushAll empties the database between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}

// PaymentKeys lists every stored payment key.
func (r *RedisContainer) PaymentKeys(ctx context.Context) ([]string, error) {
	return r.Client.Keys(ctx, "payment:*").Result()
}
