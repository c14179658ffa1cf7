// Package metrics exposes archive activity as Prometheus collectors.
//
// A nil *Registry is valid and records nothing, so callers can hold one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read results used as label values.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Registry holds the archive collectors and the Prometheus registry they are
// registered with.
type Registry struct {
	registry *prometheus.Registry

	FilesRead       *prometheus.CounterVec
	BytesRead       prometheus.Counter
	DecodeDuration  prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
	CRCFailures     prometheus.Counter
	TableLoads      *prometheus.CounterVec
	ArchivesOpen    prometheus.Gauge
	FilesWritten    prometheus.Counter
	BytesWritten    prometheus.Counter
	FlushDuration   prometheus.Histogram
	BatchFilesTotal *prometheus.CounterVec
}

// NewRegistry creates a Registry backed by a fresh Prometheus registry.
func NewRegistry() *Registry {
	return NewRegistryWith(prometheus.NewRegistry())
}

// NewRegistryWith registers the collectors with reg.
func NewRegistryWith(reg *prometheus.Registry) *Registry {
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.FilesRead = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpq_files_read_total",
			Help: "Total number of file reads by result",
		},
		[]string{"result"},
	)
	r.BytesRead = f.NewCounter(prometheus.CounterOpts{
		Name: "mpq_bytes_read_total",
		Help: "Total decoded bytes returned by file reads",
	})
	r.DecodeDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "mpq_decode_duration_seconds",
		Help:    "Time spent decrypting and decompressing one file",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	r.CacheLookups = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpq_cache_lookups_total",
			Help: "Decoded-file cache lookups by outcome",
		},
		[]string{"outcome"}, // hit, miss
	)
	r.CRCFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "mpq_sector_crc_failures_total",
		Help: "Sectors whose stored checksum did not match",
	})
	r.TableLoads = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpq_table_loads_total",
			Help: "Index tables decoded at open, by table kind",
		},
		[]string{"table"}, // hash, block, hi-block, het, bet
	)
	r.ArchivesOpen = f.NewGauge(prometheus.GaugeOpts{
		Name: "mpq_archives_open",
		Help: "Number of archives currently open",
	})
	r.FilesWritten = f.NewCounter(prometheus.CounterOpts{
		Name: "mpq_files_written_total",
		Help: "Files added to mutable archives",
	})
	r.BytesWritten = f.NewCounter(prometheus.CounterOpts{
		Name: "mpq_bytes_written_total",
		Help: "Stored bytes written for added files",
	})
	r.FlushDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "mpq_flush_duration_seconds",
		Help:    "Time spent writing tables and header on flush",
		Buckets: prometheus.DefBuckets,
	})
	r.BatchFilesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpq_batch_files_total",
			Help: "Files handled by batch verify and extract, by stage and result",
		},
		[]string{"stage", "result"},
	)
	return r
}

// Gatherer returns the underlying registry for exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordRead records one file read.
func (r *Registry) RecordRead(result string, n int, decode time.Duration) {
	if r == nil {
		return
	}
	r.FilesRead.WithLabelValues(result).Inc()
	if result == ResultOK {
		r.BytesRead.Add(float64(n))
		r.DecodeDuration.Observe(decode.Seconds())
	}
}

// RecordCache records a cache lookup.
func (r *Registry) RecordCache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		r.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordCRCFailures adds n sector checksum failures.
func (r *Registry) RecordCRCFailures(n int) {
	if r == nil || n == 0 {
		return
	}
	r.CRCFailures.Add(float64(n))
}

// RecordTableLoad records a decoded index table.
func (r *Registry) RecordTableLoad(table string) {
	if r == nil {
		return
	}
	r.TableLoads.WithLabelValues(table).Inc()
}

// ArchiveOpened and ArchiveClosed track open archive handles.
func (r *Registry) ArchiveOpened() {
	if r != nil {
		r.ArchivesOpen.Inc()
	}
}

// ArchiveClosed decrements the open archive gauge.
func (r *Registry) ArchiveClosed() {
	if r != nil {
		r.ArchivesOpen.Dec()
	}
}

// RecordWrite records one added file and its stored size.
func (r *Registry) RecordWrite(stored int) {
	if r == nil {
		return
	}
	r.FilesWritten.Inc()
	r.BytesWritten.Add(float64(stored))
}

// RecordFlush records the duration of one flush.
func (r *Registry) RecordFlush(d time.Duration) {
	if r == nil {
		return
	}
	r.FlushDuration.Observe(d.Seconds())
}

// RecordBatch records the outcome counts of one batch run.
func (r *Registry) RecordBatch(stage string, processed, failed int) {
	if r == nil {
		return
	}
	r.BatchFilesTotal.WithLabelValues(stage, ResultOK).Add(float64(processed))
	r.BatchFilesTotal.WithLabelValues(stage, ResultError).Add(float64(failed))
}
