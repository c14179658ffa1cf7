package mpq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testFile is one file added by buildArchive.
type testFile struct {
	name string
	data []byte
	opts []AddOption
}

// buildArchive creates an archive holding files and returns its path.
func buildArchive(t *testing.T, files []testFile, opts ...CreateOption) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mpq")
	m, err := Create(path, opts...)
	require.NoError(t, err)
	for _, f := range files {
		require.NoError(t, m.AddFile(f.name, f.data, f.opts...), f.name)
	}
	require.NoError(t, m.Close())
	return path
}

// openArchive opens path and closes it when the test ends.
func openArchive(t *testing.T, path string, opts ...Option) *Archive {
	t.Helper()
	a, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// flipByte inverts one byte of the file at path.
func flipByte(t *testing.T, path string, off int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	var b [1]byte
	_, err = f.ReadAt(b[:], off)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], off)
	require.NoError(t, err)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}
