package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	c := NewMemoryProvider()
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	got[0] = 'x'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("v1"), again, "callers must not alias stored bytes")

	require.NoError(t, c.Del(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryProviderExpiry(t *testing.T) {
	c := NewMemoryProvider()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, 1, c.Len())

	now = now.Add(2 * time.Minute)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Zero(t, c.Len())
}

func TestMemoryProviderSetNX(t *testing.T) {
	c := NewMemoryProvider()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", []byte("a"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "lock", []byte("b"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = c.SetNX(ctx, "lock", []byte("c"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ := c.Get(ctx, "lock")
	assert.Equal(t, []byte("c"), got)
}

func TestNoopProvider(t *testing.T) {
	var p Provider = NoopProvider{}
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "k", []byte("v"), 0))
	_, err := p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
