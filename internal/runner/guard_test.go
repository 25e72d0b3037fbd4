package runner

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()

	release, err := l.Acquire(ctx)
	require.NoError(t, err)

	_, err = l.Acquire(ctx)
	require.ErrorIs(t, err, ErrRunInProgress)

	release()
	release() // idempotent

	release2, err := l.Acquire(ctx)
	require.NoError(t, err)
	release2()
}

// Runs only when a Redis server is available via REDIS_URL.
func TestRedisLock(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	key := "cryptoetl:test-lock:" + time.Now().Format(time.RFC3339Nano)
	a := NewRedisLock(client, key, time.Minute)
	b := NewRedisLock(client, key, time.Minute)
	ctx := context.Background()

	release, err := a.Acquire(ctx)
	require.NoError(t, err)

	_, err = b.Acquire(ctx)
	require.ErrorIs(t, err, ErrRunInProgress)

	release()
	assert.Zero(t, client.Exists(ctx, key).Val())

	releaseB, err := b.Acquire(ctx)
	require.NoError(t, err)
	releaseB()
}
