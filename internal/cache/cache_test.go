package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// unreachable points at a port nothing listens on, so every call fails fast.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewWithClient(client)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetJSONFailureIsMiss(t *testing.T) {
	c := unreachable(t)

	var dst map[string]string
	assert.False(t, c.GetJSON(context.Background(), "posts:all", &dst))
	assert.Nil(t, dst)
}

func TestWritesReportErrors(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	assert.Error(t, c.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute))
	assert.Error(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Delete(ctx))
	assert.Error(t, c.Ping(ctx))
}

func TestSetJSONRejectsUnencodable(t *testing.T) {
	c := unreachable(t)
	assert.Error(t, c.SetJSON(context.Background(), "k", make(chan int), time.Minute))
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}
