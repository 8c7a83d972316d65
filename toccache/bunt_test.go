package toccache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitcraze/crazyflie-lib-go/toccache"
)

func TestBuntCacheRoundTrip(t *testing.T) {
	c, err := toccache.OpenBuntCache(":memory:")
	require.NoError(t, err)
	defer c.Close()

	key := []byte{4, 0x44, 0x33, 0x22, 0x11}
	_, ok := c.Get(key)
	require.False(t, ok)

	c.Store(key, `{"crc32":1}`)
	v, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, `{"crc32":1}`, v)
}

func TestBuntCacheDistinctKeysDoNotCollide(t *testing.T) {
	c, err := toccache.OpenBuntCache(":memory:")
	require.NoError(t, err)
	defer c.Close()

	keyA := []byte{4, 1, 2, 3, 4}
	keyB := []byte{4, 5, 6, 7, 8}
	c.Store(keyA, "table-a")
	c.Store(keyB, "table-b")

	v, ok := c.Get(keyA)
	require.True(t, ok)
	require.Equal(t, "table-a", v)

	v, ok = c.Get(keyB)
	require.True(t, ok)
	require.Equal(t, "table-b", v)
}

func TestMemCacheRoundTrip(t *testing.T) {
	c := toccache.NewMemCache()
	_, ok := c.Get([]byte("k"))
	require.False(t, ok)

	c.Store([]byte("k"), "v")
	v, ok := c.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestNoCacheAlwaysMisses(t *testing.T) {
	var c toccache.NoCache
	c.Store([]byte("k"), "v")
	_, ok := c.Get([]byte("k"))
	require.False(t, ok)
}
