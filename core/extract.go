package mpq

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/mpq/core/internal/batch"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// BatchOption configures VerifyAll and ExtractAll.
type BatchOption func(*batchConfig)

type batchConfig struct {
	workers        int
	keepGoing      bool
	readAheadBytes uint64
	overwrite      bool
	preserveTimes  bool
	names          []string
}

// WithWorkers sets the number of file groups processed concurrently.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) BatchOption {
	return func(c *batchConfig) {
		c.workers = n
	}
}

// WithKeepGoing continues past per-file failures. The failures are returned
// joined once every file has been attempted.
func WithKeepGoing(enabled bool) BatchOption {
	return func(c *batchConfig) {
		c.keepGoing = enabled
	}
}

// WithReadAheadBytes caps the stored bytes held in memory at once.
// Zero disables the cap.
func WithReadAheadBytes(limit uint64) BatchOption {
	return func(c *batchConfig) {
		c.readAheadBytes = limit
	}
}

// WithOverwrite allows ExtractAll to replace existing files.
func WithOverwrite(enabled bool) BatchOption {
	return func(c *batchConfig) {
		c.overwrite = enabled
	}
}

// WithPreserveTimes applies the modification times recorded in
// (attributes) to extracted files.
func WithPreserveTimes(enabled bool) BatchOption {
	return func(c *batchConfig) {
		c.preserveTimes = enabled
	}
}

// WithNames restricts the run to the given names instead of the names in
// (listfile).
func WithNames(names ...string) BatchOption {
	return func(c *batchConfig) {
		c.names = names
	}
}

func newBatchConfig(opts []BatchOption) batchConfig {
	var c batchConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// VerifyAll reads every listed file with strict sector checksums and checks
// it against (attributes). Reserved files are included.
func (a *Archive) VerifyAll(ctx context.Context, opts ...BatchOption) (BatchStats, error) {
	cfg := newBatchConfig(opts)
	entries, err := a.batchEntries(cfg, true)
	if err != nil {
		return BatchStats{}, err
	}
	decode := func(e *batch.Entry, r io.ReaderAt) ([]byte, error) {
		data, err := a.decodeEntry(e, r, true)
		if err != nil {
			return nil, err
		}
		if err := a.verifyAttributes(e.Name, e.Block, data); err != nil {
			return nil, err
		}
		return data, nil
	}
	return a.runBatch(ctx, cfg, StageVerifying, decode, entries, batch.DiscardSink{})
}

// ExtractAll writes every listed file below dir, mapping "\" to the path
// separator. Names that do not form a valid relative path are skipped, as
// are existing files unless WithOverwrite is set. Reserved files are not
// extracted.
func (a *Archive) ExtractAll(ctx context.Context, dir string, opts ...BatchOption) (BatchStats, error) {
	cfg := newBatchConfig(opts)
	entries, err := a.batchEntries(cfg, false)
	if err != nil {
		return BatchStats{}, err
	}
	sink := batch.NewFileSink(dir,
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveTimes(cfg.preserveTimes),
	)
	decode := func(e *batch.Entry, r io.ReaderAt) ([]byte, error) {
		return a.decodeEntry(e, r, a.strictCRC)
	}
	return a.runBatch(ctx, cfg, StageExtracting, decode, entries, sink)
}

func (a *Archive) runBatch(ctx context.Context, cfg batchConfig, stage ProgressStage, decode batch.Decoder, entries []*batch.Entry, sink batch.Sink) (BatchStats, error) {
	proc := batch.NewProcessor(a.source, decode,
		batch.WithWorkers(cfg.workers),
		batch.WithKeepGoing(cfg.keepGoing),
		batch.WithReadAheadBytes(cfg.readAheadBytes),
		batch.WithProgress(stage, a.progress),
		batch.WithProcessorLogger(a.logger),
	)
	stats, err := proc.Process(ctx, entries, sink)
	a.metrics.RecordBatch(stage.String(), stats.Processed, stats.Failed)
	a.log().Debug("batch finished",
		"stage", stage.String(),
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, err
}

// batchEntries resolves the names of a batch run. Names that do not resolve,
// delete markers and patch files are left out.
func (a *Archive) batchEntries(cfg batchConfig, reserved bool) ([]*batch.Entry, error) {
	names := cfg.names
	if names == nil {
		var err error
		if names, err = a.Listfile(); err != nil {
			return nil, err
		}
		if reserved {
			names = append(names, special.ListfileName, special.AttributesName)
		}
	}

	var attrs *Attributes
	if cfg.preserveTimes {
		var err error
		if attrs, err = a.Attributes(); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	entries := make([]*batch.Entry, 0, len(names))
	for _, name := range names {
		if !reserved && special.IsReserved(name) {
			continue
		}
		loc, err := a.resolve(name, tables.LocaleNeutral, true)
		if err != nil || checkReadable(loc) != nil {
			continue
		}
		off, err := a.offset(loc.block.FilePos)
		if err != nil {
			return nil, err
		}
		e := &batch.Entry{
			Name:       loc.name,
			Block:      loc.blockIndex,
			Offset:     off,
			StoredSize: uint64(loc.block.CompressedSize),
			FileSize:   uint64(loc.block.FileSize),
		}
		if attrs != nil && int(loc.blockIndex) < len(attrs.Files) {
			e.ModTime = attrs.Files[loc.blockIndex].ModTime()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// decodeEntry decodes a batch entry from the group window r.
func (a *Archive) decodeEntry(e *batch.Entry, r io.ReaderAt, strict bool) ([]byte, error) {
	block, ok := a.blockAt(e.Block)
	if !ok {
		return nil, fmt.Errorf("%w: %s: block index %d out of range", ErrInvalidFormat, e.Name, e.Block)
	}
	data, _, err := a.decode(r, location{name: e.Name, slot: -1, blockIndex: e.Block, block: block}, strict)
	return data, err
}

// blockAt returns block i from the table lookups use.
func (a *Archive) blockAt(i uint32) (tables.BlockEntry, bool) {
	return a.blocks.Resolve(i)
}
