package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDistinguishesLocations(t *testing.T) {
	t.Parallel()

	base := Location{SourceID: "a.mpq", FilePos: 0x20, CompressedSize: 10, FileSize: 20, Flags: 0x80000200, Key: 7}
	k := Key(base)
	assert.Len(t, k, 32)
	assert.Equal(t, k, Key(base))

	variants := []Location{base, base, base, base}
	variants[0].SourceID = "b.mpq"
	variants[1].FilePos++
	variants[2].Flags |= 0x10000
	variants[3].Key++
	for _, v := range variants {
		assert.NotEqual(t, k, Key(v))
	}
}

func TestMemoryPutGet(t *testing.T) {
	t.Parallel()

	m, err := NewMemory(0)
	require.NoError(t, err)

	require.NoError(t, m.Put([]byte("k1"), []byte("hello")))
	got, ok := m.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, m.Put([]byte("k1"), []byte("hi")))
	assert.Equal(t, int64(2), m.SizeBytes())

	require.NoError(t, m.Delete([]byte("k1")))
	_, ok = m.Get([]byte("k1"))
	assert.False(t, ok)
	assert.Zero(t, m.SizeBytes())

	require.Error(t, m.Put(nil, []byte("x")))
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	m, err := NewMemory(10)
	require.NoError(t, err)

	require.NoError(t, m.Put([]byte("a"), make([]byte, 4)))
	require.NoError(t, m.Put([]byte("b"), make([]byte, 4)))
	_, ok := m.Get([]byte("a"))
	require.True(t, ok)

	require.NoError(t, m.Put([]byte("c"), make([]byte, 4)))
	_, ok = m.Get([]byte("b"))
	assert.False(t, ok, "b was least recently used")
	_, ok = m.Get([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, int64(8), m.SizeBytes())

	require.NoError(t, m.Put([]byte("huge"), make([]byte, 11)))
	_, ok = m.Get([]byte("huge"))
	assert.False(t, ok)

	freed, err := m.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), freed)
	assert.Equal(t, int64(10), m.MaxBytes())

	_, err = NewMemory(-1)
	require.Error(t, err)
}
