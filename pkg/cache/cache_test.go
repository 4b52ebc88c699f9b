package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{DefaultTTL: time.Minute})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "user:1", []byte(`{"id":1}`), 0))

	v, ok, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(v))

	require.NoError(t, c.Delete(ctx, "user:1"))
	_, ok, _ = c.Get(ctx, "user:1")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)

	c.deleteExpired()
	assert.Equal(t, 0, c.Count())
}

func TestMemoryMaxItemsEvictsSoonestExpiring(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Options{MaxItems: 2})
	defer c.Close()

	var evicted []string
	c.SetOnEvicted(func(k string, _ []byte) { evicted = append(evicted, k) })

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, []string{"short"}, evicted)

	// overwriting an existing key never evicts
	require.NoError(t, c.Set(ctx, "new", []byte("4"), time.Hour))
	assert.Equal(t, 2, c.Count())
}
