//go:build integration

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("SCANORCH_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// Test: only one owner holds a claim, and only the holder can release it.
func TestClaims_Exclusive(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	id := "test/" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { client.Del(ctx, claimKeyPrefix+id) })

	a := NewRedisClaimStore(client, "run-a", time.Minute)
	b := NewRedisClaimStore(client, "run-b", time.Minute)

	ok, err := a.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, id))
	ok, err = b.Claim(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "a foreign release must not drop the claim")

	require.NoError(t, a.Release(ctx, id))
	ok, err = b.Claim(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}
