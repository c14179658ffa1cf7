package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

func TestReadFileNoFollow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt")))

	root, err := os.OpenRoot(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	data, info, err := ReadFileNoFollow(root, "a.txt", 1024)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), info.Size())

	_, _, err = ReadFileNoFollow(root, "link.txt", 1024)
	require.ErrorIs(t, err, ErrSymlink)

	_, _, err = ReadFileNoFollow(root, "a.txt", 4)
	require.ErrorIs(t, err, mpqtype.ErrSizeOverflow)
}
