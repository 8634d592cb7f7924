package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, found, err := c.Get(ctx, "nomenclature:schema:1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetWithTTL(ctx, "nomenclature:schema:1", []byte(`{"version":1}`), time.Minute))

	value, found, err := c.Get(ctx, "nomenclature:schema:1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"version":1}`, string(value))

	require.NoError(t, c.Delete(ctx, "nomenclature:schema:1"))
	_, found, _ = c.Get(ctx, "nomenclature:schema:1")
	assert.False(t, found)
}

func TestMemoryCache_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	original := []byte("abc")
	require.NoError(t, c.SetWithTTL(ctx, "k", original, time.Minute))

	original[0] = 'x'
	got, _, _ := c.Get(ctx, "k")
	got[1] = 'y'

	again, _, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}
