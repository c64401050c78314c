package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisCache_Errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisCache(ctx, "not a url", time.Hour)
	assert.ErrorContains(t, err, "error parsing redis url")

	_, err = NewRedisCache(ctx, "redis://127.0.0.1:1/0", time.Hour)
	assert.ErrorContains(t, err, "error connecting to redis")
}

// TestRedisCache_PutGet needs a live server: TEST_REDIS_URL=redis://localhost:6379/15
func TestRedisCache_PutGet(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	key := Key("test", []byte(t.Name()), []byte(time.Now().String()))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, key, []byte("TOFU"), 0))
	value, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "TOFU", string(value))

	stats := c.Stats()
	assert.Equal(t, "redis", stats.Backend)
	assert.GreaterOrEqual(t, stats.Size, 1)
}
