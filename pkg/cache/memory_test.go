package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	ctx := context.Background()

	err := c.Set(ctx, "k", "value")
	assert.NoError(t, err)

	var got string
	err = c.Get(ctx, "k", &got)
	assert.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestMemoryCache_MissReturnsErrMiss(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)

	var got string
	err := c.Get(context.Background(), "absent", &got)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	ctx := context.Background()

	err := c.SetWithTTL(ctx, "k", 42, 20*time.Millisecond)
	assert.NoError(t, err)

	var got int
	assert.NoError(t, c.Get(ctx, "k", &got))

	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "k", "v"))
	assert.NoError(t, c.Delete(ctx, "k"))

	exists, err := c.Exists(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCache_StoresBytes(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	ctx := context.Background()

	audio := []byte{0x49, 0x44, 0x33, 0x00, 0x01}
	assert.NoError(t, c.Set(ctx, "audio", audio))

	var got []byte
	assert.NoError(t, c.Get(ctx, "audio", &got))
	assert.Equal(t, audio, got)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(time.Minute, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := HashKey("t", string(rune('a'+n%10)))
			_ = c.Set(ctx, key, n)
			var got int
			_ = c.Get(ctx, key, &got)
		}(i)
	}
	wg.Wait()
}
