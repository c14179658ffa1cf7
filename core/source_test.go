package mpq

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/cache"
	"github.com/meigma/mpq/core/cache/disk"
	mpqhttp "github.com/meigma/mpq/core/http"
	"github.com/meigma/mpq/core/metrics"
	"github.com/meigma/mpq/core/testutil"
)

func sourceFiles() []testFile {
	return []testFile{
		{name: "war3map.j", data: testutil.Patterned(40000)},
		{name: `units\footman.txt`, data: []byte("footman")},
	}
}

func archiveBytes(t *testing.T, files []testFile, opts ...CreateOption) []byte {
	t.Helper()
	data, err := os.ReadFile(buildArchive(t, files, opts...))
	require.NoError(t, err)
	return data
}

func TestOpenSourceWithCache(t *testing.T) {
	t.Parallel()

	files := sourceFiles()
	src := testutil.NewMockByteSource(archiveBytes(t, files))
	c := testutil.NewMockCache()

	a, err := OpenSource(src, WithCache(c))
	require.NoError(t, err)
	defer a.Close()

	got, err := a.ReadFile("war3map.j")
	require.NoError(t, err)
	assert.Equal(t, files[0].data, got)
	assert.Equal(t, int64(1), c.Puts())

	// The second read is served from the cache without touching the source.
	reads := src.Reads()
	got, err = a.ReadFile("war3map.j")
	require.NoError(t, err)
	assert.Equal(t, files[0].data, got)
	assert.Equal(t, reads, src.Reads())
	assert.GreaterOrEqual(t, c.Hits(), int64(1))

	// Callers own the returned slice.
	got[0] ^= 0xFF
	again, err := a.ReadFile("war3map.j")
	require.NoError(t, err)
	assert.Equal(t, files[0].data, again)
}

func TestOpenSourceWithMemoryCache(t *testing.T) {
	t.Parallel()

	files := sourceFiles()
	mem, err := cache.NewMemory(1 << 20)
	require.NoError(t, err)

	a, err := OpenSource(testutil.NewMockByteSource(archiveBytes(t, files)), WithCache(mem))
	require.NoError(t, err)
	defer a.Close()

	for range 3 {
		for _, f := range files {
			got, err := a.ReadFile(f.name)
			require.NoError(t, err)
			assert.Equal(t, f.data, got)
		}
	}
	assert.Positive(t, mem.SizeBytes())
}

func TestDiskCacheSharedAcrossHandles(t *testing.T) {
	t.Parallel()

	files := sourceFiles()
	data := archiveBytes(t, files)
	dc, err := disk.New(t.TempDir(), disk.WithMaxBytes(1<<20))
	require.NoError(t, err)

	first, err := OpenSource(testutil.NewMockByteSource(data), WithCache(dc))
	require.NoError(t, err)
	defer first.Close()
	_, err = first.ReadFile("war3map.j")
	require.NoError(t, err)
	assert.Positive(t, dc.SizeBytes())

	// A second handle on identical bytes has the same source identity and
	// finds the decoded file on disk.
	src := testutil.NewMockByteSource(data)
	second, err := OpenSource(src, WithCache(dc))
	require.NoError(t, err)
	defer second.Close()
	reads := src.Reads()
	got, err := second.ReadFile("war3map.j")
	require.NoError(t, err)
	assert.Equal(t, files[0].data, got)
	assert.Equal(t, reads, src.Reads())
}

func TestReadFailureLeavesArchiveUsable(t *testing.T) {
	t.Parallel()

	files := sourceFiles()
	src := testutil.NewMockByteSource(archiveBytes(t, files))
	a, err := OpenSource(src)
	require.NoError(t, err)
	defer a.Close()

	info, err := a.FindFile("war3map.j")
	require.NoError(t, err)
	start := int64(info.FilePos)
	src.FailRange(start, start+int64(info.CompressedSize))

	_, err = a.ReadFile("war3map.j")
	require.Error(t, err)
	assert.True(t, errors.Is(err, testutil.ErrInjected) || errors.Is(err, ErrIO))

	got, err := a.ReadFile(`units\footman.txt`)
	require.NoError(t, err)
	assert.Equal(t, "footman", string(got))

	src.FailRange(0, 0)
	got, err = a.ReadFile("war3map.j")
	require.NoError(t, err)
	assert.Equal(t, files[0].data, got)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := metrics.NewRegistry()
	path := filepath.Join(t.TempDir(), "metrics.mpq")
	m, err := Create(path, WithArchiveOptions(WithMetrics(reg)))
	require.NoError(t, err)
	for _, f := range sourceFiles() {
		require.NoError(t, m.AddFile(f.name, f.data))
	}
	require.NoError(t, m.Close())
	assert.GreaterOrEqual(t, promtestutil.ToFloat64(reg.FilesWritten), 2.0)
	assert.Positive(t, promtestutil.ToFloat64(reg.BytesWritten))

	readReg := metrics.NewRegistry()
	a, err := Open(path, WithMetrics(readReg))
	require.NoError(t, err)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(readReg.ArchivesOpen))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(readReg.TableLoads.WithLabelValues("hash")))

	_, err = a.ReadFile("war3map.j")
	require.NoError(t, err)
	_, err = a.ReadFile("missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(readReg.FilesRead.WithLabelValues(metrics.ResultOK)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(readReg.FilesRead.WithLabelValues(metrics.ResultNotFound)))
	assert.Equal(t, 40000.0, promtestutil.ToFloat64(readReg.BytesRead))

	require.NoError(t, a.Close())
	assert.Equal(t, 0.0, promtestutil.ToFloat64(readReg.ArchivesOpen))

	families, err := readReg.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOpenOverHTTP(t *testing.T) {
	t.Parallel()

	files := sourceFiles()
	data := archiveBytes(t, files, WithUserData([]byte("prefix")))
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "remote.mpq", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := mpqhttp.NewSource(context.Background(), server.URL, mpqhttp.WithReadAhead(4096))
	require.NoError(t, err)

	a, err := OpenSource(src)
	require.NoError(t, err)
	defer a.Close()

	for _, f := range files {
		got, err := a.ReadFile(f.name)
		require.NoError(t, err)
		assert.Equal(t, f.data, got)
	}
	names, err := a.List()
	require.NoError(t, err)
	assert.Len(t, names, len(files))
}

func TestOpenMmap(t *testing.T) {
	t.Parallel()

	files := sourceFiles()
	path := buildArchive(t, files)
	a, err := OpenMmap(path)
	require.NoError(t, err)

	for _, f := range files {
		got, err := a.ReadFile(f.name)
		require.NoError(t, err)
		assert.Equal(t, f.data, got)
	}
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
