package mpq

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/mpq/core/cache"
	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/format"
	"github.com/meigma/mpq/core/internal/sector"
	"github.com/meigma/mpq/core/internal/sizing"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
	"github.com/meigma/mpq/core/metrics"
)

// Archive provides read access to the files of one archive.
//
// The header and index tables are parsed once when the archive is opened.
// All reads are positioned reads on the source, so an Archive is safe for
// concurrent use. A failed read of one file leaves the Archive usable.
type Archive struct {
	options

	source ByteSource
	closer io.Closer

	// base is the absolute offset of the header; table and file positions
	// are relative to it.
	base     int64
	header   *format.Header
	userData *format.UserData

	hash   *tables.HashTable // nil when the archive only has HET/BET
	blocks *tables.BlockTable
	het    *tables.HETTable
	bet    *tables.BETTable

	cacheGroup singleflight.Group // zero value is valid

	attrsOnce sync.Once
	attrs     *special.Attributes
	attrsErr  error

	closeOnce sync.Once
	closeErr  error
}

func newArchive(src ByteSource, closer io.Closer, opts []Option) (*Archive, error) {
	a := &Archive{
		options: newOptions(opts),
		source:  src,
		closer:  closer,
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	a.metrics.ArchiveOpened()
	a.log().Debug("archive opened",
		"source", src.SourceID(),
		"offset", a.base,
		"version", a.header.Version.String(),
		"hash_entries", a.header.HashTableCount,
		"blocks", a.blocks.Len(),
		"het", a.het != nil,
	)
	return a, nil
}

// load locates the header and decodes the index tables.
func (a *Archive) load() error {
	size := a.source.Size()
	loc, err := format.Locate(a.source, size)
	if err != nil {
		return err
	}
	a.base = loc.Offset
	a.header = loc.Header
	a.userData = loc.UserData
	h := a.header

	if a.verifyDigests {
		if err := format.VerifyTableDigests(a.source, a.base, size, h); err != nil {
			return err
		}
	}

	sizes := h.TableSizes(size - a.base)
	if h.HETTablePos != 0 && h.BETTablePos != 0 && sizes.HET != 0 && sizes.BET != 0 {
		if err := a.loadHETBET(sizes); err != nil {
			if h.HashTableCount == 0 {
				return err
			}
			a.log().Warn("ignoring extended tables", "error", err)
			a.het, a.bet = nil, nil
		}
	}

	if h.HashTableCount != 0 {
		raw, err := a.readTable("hash", h.HashTablePos, sizes.Hash)
		if err != nil {
			return err
		}
		if a.hash, err = tables.DecodeHashTable(raw, h.HashTableCount); err != nil {
			return fmt.Errorf("hash table: %w", err)
		}
		a.metrics.RecordTableLoad("hash")
	}

	switch {
	case h.BlockTableCount != 0:
		raw, err := a.readTable("block", h.BlockTablePos, sizes.Block)
		if err != nil {
			return err
		}
		var hi []byte
		if h.HiBlockTablePos != 0 && sizes.HiBlock != 0 {
			if hi, err = a.readTable("hi-block", h.HiBlockTablePos, sizes.HiBlock); err != nil {
				return err
			}
		}
		if a.blocks, err = tables.DecodeBlockTable(raw, h.BlockTableCount, hi); err != nil {
			return fmt.Errorf("block table: %w", err)
		}
		a.metrics.RecordTableLoad("block")
	case a.bet != nil:
		a.blocks = a.bet.Blocks()
	default:
		a.blocks = tables.NewBlockTable()
	}
	return nil
}

func (a *Archive) loadHETBET(sizes format.TableSizes) error {
	raw, err := a.readTable("het", a.header.HETTablePos, sizes.HET)
	if err != nil {
		return err
	}
	if a.het, err = tables.DecodeHET(raw); err != nil {
		return err
	}
	raw, err = a.readTable("bet", a.header.BETTablePos, sizes.BET)
	if err != nil {
		return err
	}
	if a.bet, err = tables.DecodeBET(raw); err != nil {
		return err
	}
	a.metrics.RecordTableLoad("het")
	a.metrics.RecordTableLoad("bet")
	return nil
}

// readTable reads size bytes at the archive-relative position pos.
func (a *Archive) readTable(name string, pos, size uint64) ([]byte, error) {
	n, err := sizing.ToInt(size, ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("%s table: %w", name, err)
	}
	off, err := a.offset(pos)
	if err != nil {
		return nil, fmt.Errorf("%s table: %w", name, err)
	}
	buf := make([]byte, n)
	if err := readFull(a.source, buf, off); err != nil {
		return nil, fmt.Errorf("%s table: %w", name, err)
	}
	a.log().Debug("table loaded", "table", name, "pos", pos, "size", size)
	return buf, nil
}

// offset converts an archive-relative position to a source offset.
func (a *Archive) offset(pos uint64) (int64, error) {
	rel, err := sizing.ToInt64(pos, ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	return a.base + rel, nil
}

// Header returns a copy of the archive header.
func (a *Archive) Header() Header {
	return *a.header
}

// UserData returns the user-data block preceding the archive, or nil.
func (a *Archive) UserData() *UserData {
	if a.userData == nil {
		return nil
	}
	ud := *a.userData
	ud.Data = bytes.Clone(a.userData.Data)
	return &ud
}

// Offset returns the absolute position of the archive header in the source.
func (a *Archive) Offset() int64 {
	return a.base
}

// Close releases the source when the Archive owns it. Calling Close more
// than once is safe.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		a.metrics.ArchiveClosed()
		if a.closer != nil {
			a.closeErr = a.closer.Close()
		}
	})
	return a.closeErr
}

// location is a name resolved to its table entries.
type location struct {
	name       string
	slot       int // hash slot, or -1 when resolved through HET
	locale     uint16
	platform   uint16
	blockIndex uint32
	block      tables.BlockEntry
}

// archiveName maps fs-style separators to the archive separator.
func archiveName(name string) string {
	return strings.ReplaceAll(name, "/", `\`)
}

// resolve finds name in the tables. HET/BET are consulted first for the
// neutral locale; the classic tables serve the rest. Entries whose block
// does not exist are reported as not found.
func (a *Archive) resolve(name string, locale uint16, anyLocale bool) (location, error) {
	name = archiveName(name)
	if a.het != nil && (anyLocale || locale == tables.LocaleNeutral) {
		if idx, ok := a.het.Find(name, a.bet); ok {
			if block, ok := a.bet.Entry(idx); ok && block.Exists() {
				return location{name: name, slot: -1, blockIndex: idx, block: block}, nil
			}
		}
	}
	if a.hash == nil {
		return location{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	var (
		slot int
		ok   bool
	)
	if anyLocale {
		slot, ok = a.findAny(name)
	} else {
		slot, ok = a.hash.Find(name, locale, tables.PlatformDefault)
	}
	if !ok {
		return location{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	e := a.hash.Entry(slot)
	block, ok := a.blocks.Resolve(e.BlockIndex)
	if !ok {
		return location{}, fmt.Errorf("%w: %s: block index %d out of range", ErrInvalidFormat, name, e.BlockIndex)
	}
	if !block.Exists() {
		return location{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return location{
		name:       name,
		slot:       slot,
		locale:     e.Locale,
		platform:   e.Platform,
		blockIndex: e.BlockIndex,
		block:      block,
	}, nil
}

// findAny returns the slot holding name in the neutral locale, or else the
// first live slot of any locale.
func (a *Archive) findAny(name string) (int, bool) {
	return preferNeutral(a.hash, name)
}

func preferNeutral(t *tables.HashTable, name string) (int, bool) {
	slots := t.FindAll(name)
	if len(slots) == 0 {
		return -1, false
	}
	for _, s := range slots {
		if t.Entry(s).Locale == tables.LocaleNeutral {
			return s, true
		}
	}
	return slots[0], true
}

// fileKey returns the decryption key of loc, or 0 for plain files.
func (a *Archive) fileKey(loc location) uint32 {
	if !loc.block.Has(tables.FlagEncrypted) {
		return 0
	}
	return crypto.FileKeyFor(loc.name, loc.block.FilePos, loc.block.FileSize, loc.block.Has(tables.FlagFixKey))
}

// checkReadable rejects entries that carry no readable content.
func checkReadable(loc location) error {
	switch {
	case loc.block.Has(tables.FlagDeleteMarker):
		return fmt.Errorf("%s: deleted: %w", loc.name, ErrNotFound)
	case loc.block.Has(tables.FlagPatchFile):
		return fmt.Errorf("%s: %w", loc.name, ErrUnsupportedPatch)
	}
	return nil
}

// decode reads and decodes the payload of loc from r.
func (a *Archive) decode(r io.ReaderAt, loc location, strict bool) ([]byte, sector.Report, error) {
	if err := checkReadable(loc); err != nil {
		return nil, sector.Report{}, err
	}
	data, rep, err := sector.Read(r, a.base, loc.block, a.fileKey(loc), sector.Options{
		SectorSize: a.header.SectorSize(),
		Strict:     strict,
		Limit:      a.source.Size() - a.base,
	})
	if n := len(rep.CRCFailures); n > 0 {
		a.metrics.RecordCRCFailures(n)
		if err == nil {
			a.log().Warn("sector checksum mismatch", "name", loc.name, "sectors", n)
		}
	}
	if err != nil {
		return nil, rep, fmt.Errorf("read %s: %w", loc.name, err)
	}
	return data, rep, nil
}

// content returns the decoded bytes of loc, going through the cache when
// one is configured. The returned slice is owned by the caller.
func (a *Archive) content(loc location) ([]byte, error) {
	start := time.Now()
	data, err := a.cachedContent(loc)
	switch {
	case errors.Is(err, ErrNotFound):
		a.metrics.RecordRead(metrics.ResultNotFound, 0, 0)
	case err != nil:
		a.metrics.RecordRead(metrics.ResultError, 0, 0)
	default:
		a.metrics.RecordRead(metrics.ResultOK, len(data), time.Since(start))
	}
	return data, err
}

func (a *Archive) cachedContent(loc location) ([]byte, error) {
	if a.cache == nil {
		data, _, err := a.decode(a.source, loc, a.strictCRC)
		return data, err
	}
	if err := checkReadable(loc); err != nil {
		return nil, err
	}

	key := cache.Key(cache.Location{
		SourceID:       a.source.SourceID(),
		FilePos:        uint64(a.base) + loc.block.FilePos, //nolint:gosec // base is non-negative
		CompressedSize: loc.block.CompressedSize,
		FileSize:       loc.block.FileSize,
		Flags:          loc.block.Flags,
		Key:            a.fileKey(loc),
	})
	if data, ok := a.cache.Get(key); ok {
		a.metrics.RecordCache(true)
		return bytes.Clone(data), nil
	}
	a.metrics.RecordCache(false)

	v, err, _ := a.cacheGroup.Do(string(key), func() (any, error) {
		if data, ok := a.cache.Get(key); ok {
			return data, nil
		}
		data, _, err := a.decode(a.source, loc, a.strictCRC)
		if err != nil {
			return nil, err
		}
		if err := a.cache.Put(key, data); err != nil {
			a.log().Debug("cache put failed", "name", loc.name, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("read %s: unexpected cache value %T", loc.name, v)
	}
	return bytes.Clone(data), nil
}

// readFull fills buf from r at off. A short read is an ErrIO; io.EOF
// together with a full buffer is not an error.
func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at 0x%X (%d of %d bytes)", ErrIO, off, n, len(buf))
	}
	return fmt.Errorf("%w: read at 0x%X: %w", ErrIO, off, err)
}
