package batch

import (
	"errors"
	"sync"

	"github.com/meigma/mpq/core/internal/mpqtype"
	"github.com/meigma/mpq/core/internal/sizing"
)

// ProcessStats contains statistics from a batch processing operation.
type ProcessStats struct {
	// Processed is the number of entries successfully written to the sink.
	Processed int

	// Skipped is the number of entries skipped (ShouldProcess returned false).
	Skipped int

	// Failed is the number of entries that failed when processing continues
	// past errors.
	Failed int

	// TotalBytes is the sum of FileSize for all processed entries.
	TotalBytes uint64
}

// add accumulates stats from another ProcessStats into this one.
func (s *ProcessStats) add(other ProcessStats) {
	s.Processed += other.Processed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.TotalBytes, _ = sizing.AddUint64(s.TotalBytes, other.TotalBytes)
}

// tracker accumulates results from concurrent workers and reports progress.
// Progress callbacks run under the tracker's lock, one at a time.
type tracker struct {
	mu       sync.Mutex
	stats    ProcessStats
	errs     []error
	event    mpqtype.ProgressEvent
	progress mpqtype.ProgressFunc
}

func newTracker(stage mpqtype.ProgressStage, fn mpqtype.ProgressFunc, entries []*Entry) *tracker {
	t := &tracker{progress: fn}
	t.event.Stage = stage
	t.event.FilesTotal = len(entries)
	for _, e := range entries {
		if total, ok := sizing.AddUint64(t.event.BytesTotal, e.FileSize); ok {
			t.event.BytesTotal = total
		}
	}
	return t
}

func (t *tracker) done(entry *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Processed++
	t.stats.TotalBytes, _ = sizing.AddUint64(t.stats.TotalBytes, entry.FileSize)
	t.report(entry)
}

func (t *tracker) fail(entry *Entry, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Failed++
	t.errs = append(t.errs, err)
	t.report(entry)
}

// report must be called with mu held.
func (t *tracker) report(entry *Entry) {
	t.event.FilesDone++
	t.event.BytesDone, _ = sizing.AddUint64(t.event.BytesDone, entry.FileSize)
	t.event.Path = entry.Name
	if t.progress != nil {
		t.progress(t.event)
	}
}

func (t *tracker) result() (ProcessStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, errors.Join(t.errs...)
}
