package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, ttl time.Duration) *ResponseCache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"), ttl, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestResponseCache_PutGet(t *testing.T) {
	c := openTestCache(t, time.Hour)

	_, ok, err := c.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put("k1", []byte(`{"score":80}`)))

	got, ok, err := c.Get("k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"score":80}`, string(got))
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete("k1"))
	_, ok, err = c.Get("k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResponseCache_EmptyValue(t *testing.T) {
	c := openTestCache(t, 0)

	require.NoError(t, c.Put("empty", nil))
	got, ok, err := c.Get("empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestResponseCache_Expiry(t *testing.T) {
	c := openTestCache(t, time.Minute)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put("k", []byte("v")))

	now = now.Add(59 * time.Second)
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("ab", ""), Key("a", "b"))
	assert.Len(t, Key("x"), 64)
}
