// Package batch decodes many archive files in parallel and hands the results
// to a Sink.
package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/mpq/core/internal/mpqtype"
	"github.com/meigma/mpq/core/internal/sizing"
)

const (
	// defaultGroupBytes caps how many adjacent bytes are fetched in one read.
	// Archives usually store files back to back, so without a cap the whole
	// data area would become a single serial group.
	defaultGroupBytes = 1 << 20
)

// Decoder decodes one entry. r serves the entry's stored bytes at their
// absolute source offsets; reads outside the entry's group fail.
type Decoder func(entry *Entry, r io.ReaderAt) ([]byte, error)

// Processor handles batch reading and decoding of archive files.
//
// Entries are sorted by position and grouped into contiguous ranges, so each
// range is fetched with one read on the underlying source. Groups are then
// decoded concurrently.
type Processor struct {
	source         io.ReaderAt
	decode         Decoder
	workers        int // 0 = auto, <0 = serial, >0 = fixed count
	groupBytes     int64
	readAheadBytes uint64
	keepGoing      bool
	stage          mpqtype.ProgressStage
	progress       mpqtype.ProgressFunc
	logger         *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of groups decoded concurrently.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithGroupBytes caps the size of a single grouped read. Zero or less
// disables grouping caps.
func WithGroupBytes(n int64) ProcessorOption {
	return func(p *Processor) {
		p.groupBytes = n
	}
}

// WithReadAheadBytes caps the total size of group data held in memory at
// once. A value of 0 disables the byte budget.
func WithReadAheadBytes(limit uint64) ProcessorOption {
	return func(p *Processor) {
		p.readAheadBytes = limit
	}
}

// WithKeepGoing makes Process continue past per-file failures. The failures
// are returned joined once every entry has been attempted.
func WithKeepGoing(enabled bool) ProcessorOption {
	return func(p *Processor) {
		p.keepGoing = enabled
	}
}

// WithProgress reports one event per finished file under the given stage.
func WithProgress(stage mpqtype.ProgressStage, fn mpqtype.ProgressFunc) ProcessorOption {
	return func(p *Processor) {
		p.stage = stage
		p.progress = fn
	}
}

// WithProcessorLogger sets the logger for batch processing operations.
// If not set, logging is disabled.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a new batch processor reading from source and
// decoding each entry with decode.
func NewProcessor(source io.ReaderAt, decode Decoder, opts ...ProcessorOption) *Processor {
	p := &Processor{
		source:     source,
		decode:     decode,
		groupBytes: defaultGroupBytes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process decodes entries and writes results to the sink.
//
// Entries are filtered through sink.ShouldProcess, sorted by offset and
// grouped into contiguous ranges. Processing stops on the first error unless
// WithKeepGoing is set, or when ctx is cancelled.
func (p *Processor) Process(ctx context.Context, entries []*Entry, sink Sink) (ProcessStats, error) {
	var stats ProcessStats
	todo := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if sink.ShouldProcess(entry) {
			todo = append(todo, entry)
		} else {
			stats.Skipped++
		}
	}
	if len(todo) == 0 {
		return stats, nil
	}

	slices.SortStableFunc(todo, func(a, b *Entry) int {
		return cmp.Compare(a.Offset, b.Offset)
	})
	groups := groupAdjacentEntries(todo, p.groupBytes)
	p.log().Debug("batch processing", "entries", len(todo), "groups", len(groups), "stage", p.stage.String())

	budget, limit, err := p.budget()
	if err != nil {
		return stats, err
	}

	tr := newTracker(p.stage, p.progress, todo)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workerCount(len(groups)))

	var acquireErr error
	for _, group := range groups {
		weight := min(group.size(), limit)
		if budget != nil {
			if acquireErr = budget.Acquire(gctx, weight); acquireErr != nil {
				break
			}
		}
		eg.Go(func() error {
			if budget != nil {
				defer budget.Release(weight)
			}
			return p.processGroup(gctx, group, sink, tr)
		})
	}

	waitErr := eg.Wait()
	done, failures := tr.result()
	stats.add(done)
	switch {
	case waitErr != nil:
		return stats, waitErr
	case acquireErr != nil:
		return stats, acquireErr
	case ctx.Err() != nil:
		return stats, ctx.Err()
	}
	return stats, failures
}

// budget returns the read-ahead semaphore and its size, or nil when no
// budget is configured.
func (p *Processor) budget() (*semaphore.Weighted, int64, error) {
	if p.readAheadBytes == 0 {
		return nil, 0, nil
	}
	limit, err := sizing.ToInt64(p.readAheadBytes, mpqtype.ErrSizeOverflow)
	if err != nil {
		return nil, 0, fmt.Errorf("batch: %w", err)
	}
	return semaphore.NewWeighted(limit), limit, nil
}

// processGroup reads a contiguous range and decodes each entry in it.
func (p *Processor) processGroup(ctx context.Context, group rangeGroup, sink Sink, tr *tracker) error {
	data, err := p.readGroupData(group)
	if err != nil {
		if !p.keepGoing {
			return err
		}
		for _, entry := range group.entries {
			tr.fail(entry, fmt.Errorf("batch: %s: %w", entry.Name, err))
		}
		return nil
	}

	w := &window{data: data, start: group.start}
	for _, entry := range group.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processEntry(entry, w, sink); err != nil {
			if !p.keepGoing {
				return err
			}
			p.log().Warn("batch entry failed", "name", entry.Name, "error", err)
			tr.fail(entry, err)
			continue
		}
		tr.done(entry)
	}
	return nil
}

// readGroupData reads the contiguous byte range for a group.
func (p *Processor) readGroupData(group rangeGroup) ([]byte, error) {
	size, err := sizing.ToInt(uint64(group.size()), mpqtype.ErrSizeOverflow) //nolint:gosec // end >= start
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	data := make([]byte, size)
	n, err := p.source.ReadAt(data, group.start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("batch: %w: %w", mpqtype.ErrIO, err)
	}
	if n != size {
		return nil, fmt.Errorf("batch: %w: short read (%d of %d bytes)", mpqtype.ErrIO, n, size)
	}
	return data, nil
}

// processEntry decodes a single entry and writes it to the sink.
func (p *Processor) processEntry(entry *Entry, r io.ReaderAt, sink Sink) error {
	content, err := p.decode(entry, r)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}

	if bufferedSink, ok := sink.(BufferedSink); ok {
		if err := bufferedSink.PutBuffered(entry, content); err != nil {
			return fmt.Errorf("batch: %s: %w", entry.Name, err)
		}
		return nil
	}

	w, err := sink.Writer(entry)
	if err != nil {
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("batch: %s: %w", entry.Name, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("batch: %s: commit: %w", entry.Name, err)
	}
	return nil
}

// workerCount determines how many groups are decoded at once.
func (p *Processor) workerCount(groups int) int {
	if p.workers < 0 || groups < 2 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, groups))
}

// writeAll writes all of data to w, retrying short writes.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
