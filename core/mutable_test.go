package mpq

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/testutil"
)

func TestAddRemoveRenameReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "edit.mpq")
	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddFile("a.txt", []byte("alpha")))
	require.NoError(t, m.AddFile("b.txt", testutil.Patterned(9000)))
	require.NoError(t, m.AddFile("c.txt", []byte("gamma"), WithEncryption(true)))
	require.NoError(t, m.RemoveFile("b.txt"))
	require.NoError(t, m.RenameFile("c.txt", `dir\d.txt`))

	got, err := m.ReadFile(`dir\d.txt`)
	require.NoError(t, err)
	assert.Equal(t, "gamma", string(got))
	require.NoError(t, m.Close())

	a := openArchive(t, path)
	got, err = a.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))
	got, err = a.ReadFile("dir/d.txt")
	require.NoError(t, err)
	assert.Equal(t, "gamma", string(got))
	_, err = a.ReadFile("b.txt")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = a.ReadFile("c.txt")
	require.ErrorIs(t, err, ErrNotFound)

	names, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", `dir\d.txt`}, names)
	require.NoError(t, a.Close())

	// Reopen for writing: names and attributes carry over and freed space
	// is reused.
	m, err = OpenMutable(path)
	require.NoError(t, err)
	require.NoError(t, m.AddFile("b.txt", []byte("beta")))
	require.NoError(t, m.Close())

	a = openArchive(t, path)
	names, err = a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", `dir\d.txt`}, names)
	for name, want := range map[string]string{"a.txt": "alpha", "b.txt": "beta", "dir/d.txt": "gamma"} {
		got, err := a.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, string(got))
		require.NoError(t, a.VerifyFile(name), name)
	}
}

func TestAddFileErrors(t *testing.T) {
	t.Parallel()

	m, err := Create(filepath.Join(t.TempDir(), "errors.mpq"))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddFile("a.txt", []byte("one")))
	require.ErrorIs(t, m.AddFile("A.TXT", []byte("two")), ErrExists)
	require.NoError(t, m.AddFile("a.txt", []byte("three"), WithReplace()))
	got, err := m.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "three", string(got))

	require.ErrorIs(t, m.AddFile("(listfile)", []byte("x")), fs.ErrInvalid)
	require.ErrorIs(t, m.AddFile("", []byte("x")), fs.ErrInvalid)
	require.ErrorIs(t, m.AddFile("//", []byte("x")), fs.ErrInvalid)
	require.ErrorIs(t, m.AddFile("bad", []byte("x"), WithCompression(0x04)), fs.ErrInvalid)

	require.ErrorIs(t, m.RemoveFile("missing"), ErrNotFound)
	require.ErrorIs(t, m.RenameFile("missing", "other"), ErrNotFound)
	require.NoError(t, m.AddFile("b.txt", []byte("b")))
	require.ErrorIs(t, m.RenameFile("a.txt", "b.txt"), ErrExists)
}

func TestHashTableFull(t *testing.T) {
	t.Parallel()

	m, err := Create(filepath.Join(t.TempDir(), "full.mpq"),
		WithHashTableSize(4), WithListfile(false), WithAttributes(0))
	require.NoError(t, err)
	defer m.Close()

	for _, name := range []string{"1", "2", "3", "4"} {
		require.NoError(t, m.AddFile(name, []byte(name)))
	}
	require.ErrorIs(t, m.AddFile("5", []byte("5")), ErrHashTableFull)

	// A removed slot becomes available again.
	require.NoError(t, m.RemoveFile("2"))
	require.NoError(t, m.AddFile("5", []byte("5")))
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name string
		opts []CreateOption
		want error
	}{
		{"version", []CreateOption{WithVersion(Version(7))}, ErrUnsupportedVersion},
		{"hash size zero", []CreateOption{WithHashTableSize(0)}, ErrInvalidFormat},
		{"hash size not power of two", []CreateOption{WithHashTableSize(1000)}, ErrInvalidFormat},
		{"sector shift", []CreateOption{WithSectorSizeShift(24)}, ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Create(filepath.Join(dir, tt.name+".mpq"), tt.opts...)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRenameReencryptsFixKey(t *testing.T) {
	t.Parallel()

	data := testutil.Patterned(10000)
	path := filepath.Join(t.TempDir(), "rename.mpq")
	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddFile(`old\name.bin`, data, WithEncryption(true), WithSectorCRC()))
	require.NoError(t, m.AddFile(`old\single.bin`, data, WithEncryption(false), WithSingleUnit()))
	require.NoError(t, m.RenameFile(`old\name.bin`, `new\other.bin`))
	require.NoError(t, m.RenameFile(`old\single.bin`, `new\single2.bin`))
	require.NoError(t, m.Close())

	a := openArchive(t, path, WithStrictCRC(true))
	for _, name := range []string{`new\other.bin`, `new\single2.bin`} {
		got, err := a.ReadFile(name)
		require.NoError(t, err, name)
		assert.Equal(t, data, got)
	}
}

func TestRemoveFilePrefersNeutral(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "locale.mpq")
	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddFile("s.txt", []byte("neutral")))
	require.NoError(t, m.AddFile("s.txt", []byte("french"), WithLocale(0x40C)))
	require.NoError(t, m.RemoveFile("s.txt"))
	require.NoError(t, m.Close())

	a := openArchive(t, path)
	got, err := a.ReadFile("s.txt")
	require.NoError(t, err)
	assert.Equal(t, "french", string(got))

	names, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"s.txt"}, names)
}

func TestFreedBlockReuse(t *testing.T) {
	t.Parallel()

	m, err := Create(filepath.Join(t.TempDir(), "reuse.mpq"), WithListfile(false), WithAttributes(0))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddFile("big", testutil.Random(8000, 1), WithCompression(0)))
	require.NoError(t, m.AddFile("tail", []byte("tail")))
	end := m.dataEnd

	require.NoError(t, m.RemoveFile("big"))
	require.NoError(t, m.AddFile("small", testutil.Random(1000, 2), WithCompression(0)))
	assert.Equal(t, end, m.dataEnd, "small file should reuse the freed region")

	slot, ok := m.hash.Find("small", LocaleNeutral, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(0), m.hash.Entry(slot).BlockIndex)
}

func TestReplaceKeepsOldEntryWhenWriteFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "replace.mpq")
	m, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, m.AddFile("a.txt", []byte("first version")))
	require.NoError(t, m.Flush())

	// Swap in a read-only handle so every payload write fails.
	ro, err := os.Open(path)
	require.NoError(t, err)
	require.NoError(t, m.file.Close())
	m.file = ro
	defer m.Close()

	err = m.AddFile("a.txt", testutil.Patterned(5000), WithReplace())
	require.ErrorIs(t, err, ErrIO)

	got, err := m.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "first version", string(got))
	assert.False(t, m.dirty, "a failed replace changes nothing")
}

func TestFlushIsConsistentMidSession(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "flush.mpq")
	m, err := Create(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddFile("first", []byte("1")))
	require.NoError(t, m.Flush())

	a := openArchive(t, path)
	got, err := a.ReadFile("first")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	require.NoError(t, m.AddFile("second", []byte("2")))
	require.NoError(t, m.Flush())
	a2 := openArchive(t, path)
	names, err := a2.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, names)
	hdr := m.Header()
	assert.Equal(t, hdr.ArchiveSize(), uint64(fileSize(t, path)))
}

func TestMutableClosed(t *testing.T) {
	t.Parallel()

	m, err := Create(filepath.Join(t.TempDir(), "closed.mpq"))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.Error(t, m.AddFile("a", nil))
	require.Error(t, m.Flush())
}

func TestOpenMutableRequiresArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an archive"), 0o644))
	_, err := OpenMutable(path)
	require.ErrorIs(t, err, ErrInvalidFormat)

	_, err = OpenMutable(filepath.Join(t.TempDir(), "missing.mpq"))
	require.ErrorIs(t, err, ErrIO)
}

func TestAddDir(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "units", "human"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "war3map.j"), []byte("function main takes nothing returns nothing"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "units", "human", "footman.txt"), testutil.Patterned(5000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "music.ogg"), testutil.Random(3000, 9), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(src, "war3map.j"), filepath.Join(src, "link.j")))

	path := filepath.Join(t.TempDir(), "dir.mpq")
	var events []ProgressEvent
	m, err := Create(path, WithArchiveOptions(WithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	})))
	require.NoError(t, err)

	n, err := m.AddDir(context.Background(), src,
		WithPrefix("maps/custom"),
		WithSkipCompression(DefaultSkipCompression(0)),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StageAdding, last.Stage)
	assert.Equal(t, 3, last.FilesDone)

	require.NoError(t, m.Close())
	assert.Equal(t, StageWritingTables, events[len(events)-1].Stage)

	a := openArchive(t, path)
	names, err := a.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		`maps\custom\music.ogg`,
		`maps\custom\units\human\footman.txt`,
		`maps\custom\war3map.j`,
	}, names)

	got, err := a.ReadFile(`maps\custom\units\human\footman.txt`)
	require.NoError(t, err)
	assert.Equal(t, testutil.Patterned(5000), got)

	info, err := a.FindFile(`maps\custom\music.ogg`)
	require.NoError(t, err)
	assert.False(t, info.Compressed())

	st, err := a.Stat("maps/custom/war3map.j")
	require.NoError(t, err)
	srcInfo, err := os.Stat(filepath.Join(src, "war3map.j"))
	require.NoError(t, err)
	assert.WithinDuration(t, srcInfo.ModTime(), st.ModTime(), time.Microsecond)
}

func TestAddDirCanceled(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("a"), 0o644))

	m, err := Create(filepath.Join(t.TempDir(), "cancel.mpq"))
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.AddDir(ctx, src)
	require.ErrorIs(t, err, context.Canceled)
}
