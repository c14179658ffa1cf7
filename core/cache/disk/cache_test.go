package disk

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/cache"
)

func testKey(pos uint64) []byte {
	return cache.Key(cache.Location{SourceID: "test", FilePos: pos, FileSize: 5})
}

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	key := testKey(1)
	require.NoError(t, c.Put(key, []byte("hello")))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, int64(5+trailerSize), c.SizeBytes())

	hexKey := hex.EncodeToString(key)
	_, err = os.Stat(filepath.Join(dir, hexKey[:defaultShardPrefixLen], hexKey))
	require.NoError(t, err)

	_, ok = c.Get(testKey(2))
	assert.False(t, ok)
}

func TestCacheShardDisable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithShardPrefixLen(0))
	require.NoError(t, err)

	key := testKey(1)
	require.NoError(t, c.Put(key, []byte("x")))
	_, err = os.Stat(filepath.Join(dir, hex.EncodeToString(key)))
	require.NoError(t, err)
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
	_, err = New(t.TempDir(), WithMaxBytes(-1))
	require.Error(t, err)
	_, err = New(t.TempDir(), WithShardPrefixLen(-1))
	require.Error(t, err)
}

func TestCacheAlreadyCached(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := testKey(1)
	require.NoError(t, c.Put(key, []byte("first")))
	require.NoError(t, c.Put(key, []byte("second")))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "first", string(got))
	assert.Equal(t, int64(5+trailerSize), c.SizeBytes())
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	key := testKey(1)
	require.NoError(t, c.Put(key, []byte("hello")))
	require.NoError(t, c.Delete(key))
	require.NoError(t, c.Delete(key))
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Zero(t, c.SizeBytes())
}

func TestCacheEvictsOldest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir, WithMaxBytes(2*trailerSize+10))
	require.NoError(t, err)

	old := testKey(1)
	require.NoError(t, c.Put(old, []byte("aaaaaa")))
	hexKey := hex.EncodeToString(old)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, hexKey[:2], hexKey), past, past))

	require.NoError(t, c.Put(testKey(2), []byte("bbbbbb")))
	_, ok := c.Get(old)
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(testKey(2))
	assert.True(t, ok)
	assert.LessOrEqual(t, c.SizeBytes(), c.MaxBytes())

	// Content larger than the cache is not stored.
	require.NoError(t, c.Put(testKey(3), make([]byte, 2*trailerSize+10)))
	_, ok = c.Get(testKey(3))
	assert.False(t, ok)
}

func TestCacheSizeSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, c.Put(testKey(1), []byte("abc")))

	reopened, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(3+trailerSize), reopened.SizeBytes())

	freed, err := reopened.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, int64(3+trailerSize), freed)
	assert.Zero(t, reopened.SizeBytes())
}

func TestCacheDropsDamagedEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		damage func([]byte) []byte
	}{
		{name: "flipped byte", damage: func(b []byte) []byte { b[0] ^= 0xFF; return b }},
		{name: "truncated", damage: func(b []byte) []byte { return b[:len(b)-1] }},
		{name: "shorter than trailer", damage: func(b []byte) []byte { return b[:2] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			c, err := New(dir, WithShardPrefixLen(0))
			require.NoError(t, err)

			key := testKey(1)
			require.NoError(t, c.Put(key, []byte("payload")))
			path := filepath.Join(dir, hex.EncodeToString(key))
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, tt.damage(raw), 0o600))

			_, ok := c.Get(key)
			assert.False(t, ok)
			_, err = os.Stat(path)
			assert.ErrorIs(t, err, os.ErrNotExist)

			// The key can be stored again afterwards.
			require.NoError(t, c.Put(key, []byte("payload")))
			got, ok := c.Get(key)
			require.True(t, ok)
			assert.Equal(t, "payload", string(got))
		})
	}
}
