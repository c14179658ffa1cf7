package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NotNil(t, r.FilesRead)
	require.NotNil(t, r.TableLoads)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	// Vectors without observations are not gathered.
	assert.NotEmpty(t, families)
}

func TestRecordRead(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RecordRead(ResultOK, 100, 2*time.Millisecond)
	r.RecordRead(ResultOK, 50, time.Millisecond)
	r.RecordRead(ResultNotFound, 0, 0)

	assert.InDelta(t, 2, testutil.ToFloat64(r.FilesRead.WithLabelValues(ResultOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.FilesRead.WithLabelValues(ResultNotFound)), 0)
	assert.InDelta(t, 150, testutil.ToFloat64(r.BytesRead), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(r.DecodeDuration))
}

func TestRecordOthers(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RecordCache(true)
	r.RecordCache(false)
	r.RecordCache(false)
	r.RecordCRCFailures(3)
	r.RecordTableLoad("hash")
	r.ArchiveOpened()
	r.ArchiveOpened()
	r.ArchiveClosed()
	r.RecordWrite(10)
	r.RecordBatch("verifying", 4, 1)

	assert.InDelta(t, 1, testutil.ToFloat64(r.CacheLookups.WithLabelValues("hit")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.CacheLookups.WithLabelValues("miss")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(r.CRCFailures), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.TableLoads.WithLabelValues("hash")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.ArchivesOpen), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(r.BytesWritten), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.BatchFilesTotal.WithLabelValues("verifying", ResultError)), 0)
}

func TestNilRegistryIsNoop(t *testing.T) {
	t.Parallel()

	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordRead(ResultOK, 1, time.Millisecond)
		r.RecordCache(true)
		r.RecordCRCFailures(1)
		r.RecordTableLoad("block")
		r.ArchiveOpened()
		r.ArchiveClosed()
		r.RecordWrite(1)
		r.RecordFlush(time.Second)
		r.RecordBatch("extracting", 1, 0)
	})
}

func TestRecordFlushHistogram(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RecordFlush(20 * time.Millisecond)
	r.RecordFlush(40 * time.Millisecond)

	var metric dto.Metric
	require.NoError(t, r.FlushDuration.Write(&metric))
	h := metric.GetHistogram()
	require.NotNil(t, h)
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 0.06, h.GetSampleSum(), 1e-9)
}
