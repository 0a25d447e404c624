package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, ok, err := c.Get(ctx, "availability:2025-01-10")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "availability:2025-01-10", []byte(`[]`)))
	got, ok, err := c.Get(ctx, "availability:2025-01-10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[]`), got)

	require.NoError(t, c.Delete(ctx, "availability:2025-01-10", "availability:2025-01-11"))
	_, ok, _ = c.Get(ctx, "availability:2025-01-10")
	assert.False(t, ok)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10 * time.Millisecond)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	time.Sleep(30 * time.Millisecond)

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}
