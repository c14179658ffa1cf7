package mpq

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/testutil"
)

func batchFiles() []testFile {
	mod := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	return []testFile{
		{name: `war3map.j`, data: testutil.Patterned(30000), opts: []AddOption{WithModTime(mod)}},
		{name: `units\human\footman.mdx`, data: testutil.Random(9000, 1), opts: []AddOption{WithModTime(mod)}},
		{name: `scripts\ai.lua`, data: testutil.Patterned(5000), opts: []AddOption{WithEncryption(true), WithModTime(mod)}},
		{name: `empty.txt`, data: nil, opts: []AddOption{WithModTime(mod)}},
	}
}

func TestVerifyAll(t *testing.T) {
	t.Parallel()

	files := batchFiles()
	a := openArchive(t, buildArchive(t, files))

	var mu sync.Mutex
	var events []ProgressEvent
	a.progress = func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	stats, err := a.VerifyAll(context.Background(), WithWorkers(2))
	require.NoError(t, err)
	// (listfile) and (attributes) are verified too.
	assert.Equal(t, len(files)+2, stats.Processed)
	assert.Zero(t, stats.Failed)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, StageVerifying, ev.Stage)
	}
}

func TestVerifyAllReportsCorruption(t *testing.T) {
	t.Parallel()

	files := append(batchFiles(), testFile{name: "raw.bin", data: testutil.Random(4000, 7), opts: []AddOption{WithCompression(0)}})
	path := buildArchive(t, files)
	info, err := openArchive(t, path).FindFile("raw.bin")
	require.NoError(t, err)
	flipByte(t, path, int64(info.FilePos)+100)

	a := openArchive(t, path)
	stats, err := a.VerifyAll(context.Background(), WithKeepGoing(true))
	require.ErrorIs(t, err, ErrCorruptSector)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, len(files)+1, stats.Processed)
}

func TestExtractAll(t *testing.T) {
	t.Parallel()

	files := batchFiles()
	a := openArchive(t, buildArchive(t, files))
	dir := t.TempDir()

	stats, err := a.ExtractAll(context.Background(), dir, WithPreserveTimes(true), WithReadAheadBytes(16*1024))
	require.NoError(t, err)
	assert.Equal(t, len(files), stats.Processed)

	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(f.name, `\`, "/")))
		got, err := os.ReadFile(p)
		require.NoError(t, err, f.name)
		assert.Equal(t, len(f.data), len(got), f.name)
		if len(f.data) > 0 {
			assert.Equal(t, f.data, got, f.name)
		}
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)), f.name)
	}
	_, err = os.Stat(filepath.Join(dir, "(listfile)"))
	require.ErrorIs(t, err, os.ErrNotExist)

	// A second run skips the files that already exist.
	stats, err = a.ExtractAll(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Equal(t, len(files), stats.Skipped)

	stats, err = a.ExtractAll(context.Background(), dir, WithOverwrite(true), WithNames(`war3map.j`))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
}

func TestExtractAllCanceled(t *testing.T) {
	t.Parallel()

	a := openArchive(t, buildArchive(t, batchFiles()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.ExtractAll(ctx, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}
