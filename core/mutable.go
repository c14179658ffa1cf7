package mpq

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/format"
	"github.com/meigma/mpq/core/internal/sector"
	"github.com/meigma/mpq/core/internal/sizing"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// errClosed is returned by Mutable methods after Close.
var errClosed = errors.New("mpq: archive closed")

// Mutable is an archive opened for modification.
//
// Payloads are written to the file as they are added; the hash, block and
// extended tables are kept in memory and written, together with (listfile),
// (attributes) and the header, on Flush or Close. Until then the file on
// disk is not a consistent archive.
//
// Mutable is not safe for concurrent use. Its methods serialize on an
// internal mutex so misuse cannot corrupt the tables.
type Mutable struct {
	options

	mu   sync.Mutex
	file *os.File
	path string

	// base is the absolute offset of the header. Bytes before it (user
	// data) are left untouched.
	base       int64
	userDataAt int64 // -1 without user data
	header     format.Header

	hash   *tables.HashTable
	blocks *tables.BlockTable

	// attrs holds the (attributes) values per block.
	attrs     []special.FileAttributes
	attrFlags uint32

	// names maps lowercased names to the spelling recorded in (listfile).
	names map[string]string

	// dataEnd is the first archive-relative byte after all payloads. New
	// payloads and the tables go there.
	dataEnd uint64

	listfile   bool
	attributes bool
	dirty      bool
	closed     bool
}

// AddOption configures AddFile.
type AddOption func(*addConfig)

type addConfig struct {
	mask       compress.Mask
	implode    bool
	encrypt    bool
	fixKey     bool
	singleUnit bool
	sectorCRC  bool
	replace    bool
	locale     uint16
	modTime    time.Time
}

// WithCompression selects the compression steps for each sector. A zero
// mask stores the file uncompressed. The default is zlib.
func WithCompression(mask Mask) AddOption {
	return func(c *addConfig) {
		c.mask = mask
		c.implode = false
	}
}

// WithImplode stores the file with the legacy PKWare implode flag instead
// of a compression mask.
func WithImplode() AddOption {
	return func(c *addConfig) {
		c.implode = true
	}
}

// WithEncryption encrypts the file. With fixKey the key is adjusted by the
// file's position and size.
func WithEncryption(fixKey bool) AddOption {
	return func(c *addConfig) {
		c.encrypt = true
		c.fixKey = fixKey
	}
}

// WithSingleUnit stores the file as one unit instead of sectors.
func WithSingleUnit() AddOption {
	return func(c *addConfig) {
		c.singleUnit = true
	}
}

// WithSectorCRC appends per-sector Adler-32 checksums.
func WithSectorCRC() AddOption {
	return func(c *addConfig) {
		c.sectorCRC = true
	}
}

// WithLocale stores the file under locale instead of the neutral locale.
func WithLocale(locale uint16) AddOption {
	return func(c *addConfig) {
		c.locale = locale
	}
}

// WithReplace overwrites an existing file of the same name and locale.
// Without it AddFile fails with ErrExists.
func WithReplace() AddOption {
	return func(c *addConfig) {
		c.replace = true
	}
}

// WithModTime records t in (attributes). The default is the current time.
func WithModTime(t time.Time) AddOption {
	return func(c *addConfig) {
		c.modTime = t
	}
}

func newAddConfig(opts []AddOption) addConfig {
	c := addConfig{mask: compress.Zlib}
	for _, opt := range opts {
		opt(&c)
	}
	if c.modTime.IsZero() {
		c.modTime = time.Now()
	}
	return c
}

// OpenMutable opens the archive at path for modification.
//
// The archive must carry a classic hash table. Names recorded in
// (listfile) and values recorded in (attributes) are carried over, and
// both files are rewritten on Flush when the archive had them.
func OpenMutable(path string, opts ...Option) (*Mutable, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %w", ErrIO, err)
	}
	m, err := loadMutable(f, path, opts)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return m, nil
}

func loadMutable(f *os.File, path string, opts []Option) (*Mutable, error) {
	src, err := newFileSource(f)
	if err != nil {
		return nil, err
	}
	a, err := newArchive(src, nil, opts)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if a.hash == nil {
		return nil, fmt.Errorf("%w: archive has no classic hash table", ErrInvalidFormat)
	}

	m := &Mutable{
		options:    a.options,
		file:       f,
		path:       path,
		base:       a.base,
		userDataAt: -1,
		header:     *a.header,
		hash:       a.hash.Clone(),
		blocks:     a.blocks.Clone(),
		attrs:      make([]special.FileAttributes, a.blocks.Len()),
		attrFlags:  special.AttrAll,
		names:      make(map[string]string),
	}
	if a.userData != nil {
		m.userDataAt = a.userData.Offset
	}
	m.dataEnd = max(m.blocks.End(), uint64(m.header.Version.HeaderSize()))

	names, err := a.Listfile()
	switch {
	case err == nil:
		m.listfile = true
		for _, name := range names {
			if len(m.hash.FindAll(name)) > 0 {
				m.remember(name)
			}
		}
	case !errors.Is(err, ErrNotFound):
		m.log().Warn("ignoring unreadable listfile", "error", err)
	}

	attrs, err := a.Attributes()
	switch {
	case err == nil:
		m.attributes = true
		m.attrFlags = attrs.Flags
		copy(m.attrs, attrs.Files)
	case !errors.Is(err, ErrNotFound):
		m.log().Warn("ignoring unreadable attributes", "error", err)
	}

	m.log().Debug("archive opened for writing",
		"path", path,
		"version", m.header.Version.String(),
		"hash_entries", m.hash.Len(),
		"blocks", m.blocks.Len(),
		"names", len(m.names),
	)
	return m, nil
}

// Header returns a copy of the header as of the last Flush.
func (m *Mutable) Header() Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

// AddFile stores data under name.
func (m *Mutable) AddFile(name string, data []byte, opts ...AddOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	name = NormalizeName(name)
	if err := checkName(name); err != nil {
		return err
	}
	if special.IsReserved(name) {
		return fmt.Errorf("add %s: %w: reserved name", name, fs.ErrInvalid)
	}
	cfg := newAddConfig(opts)
	if !cfg.mask.Valid() {
		return fmt.Errorf("add %s: %w: compression mask %s", name, fs.ErrInvalid, cfg.mask)
	}
	if _, err := m.store(name, data, cfg); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	m.remember(name)
	return nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: archive name %q", fs.ErrInvalid, name)
	}
	return nil
}

// store encodes data and places it in a free block or at the end of the
// data area. It returns the block index used. A replaced entry keeps its
// block until the new payload is written.
func (m *Mutable) store(name string, data []byte, cfg addConfig) (uint32, error) {
	enc, err := m.encode(data, cfg)
	if err != nil {
		return 0, err
	}
	old := noSlot
	if slot, ok := m.hash.Find(name, cfg.locale, tables.PlatformDefault); ok {
		if !cfg.replace {
			return 0, ErrExists
		}
		old = slot
	}
	idx, pos, err := m.allocate(enc.CompressedSize())
	if err != nil {
		return 0, err
	}
	if err := m.place(name, enc, idx, pos, cfg.locale, special.Compute(data, cfg.modTime, false), old); err != nil {
		return 0, err
	}
	return idx, nil
}

func (m *Mutable) encode(data []byte, cfg addConfig) (*sector.Encoded, error) {
	return sector.Write(data, sector.WriteOptions{
		SectorSize: m.header.SectorSize(),
		Mask:       cfg.mask,
		Implode:    cfg.implode,
		SingleUnit: cfg.singleUnit,
		SectorCRC:  cfg.sectorCRC,
		Encrypt:    cfg.encrypt,
		FixKey:     cfg.fixKey,
	})
}

// noSlot marks the absence of a hash slot.
const noSlot = -1

// place encrypts the payload for its final position, writes it at pos and
// links name to block idx. The old slot, when not noSlot, is released only
// after the write, so a failed write leaves the previous entry readable.
func (m *Mutable) place(name string, enc *sector.Encoded, idx uint32, pos uint64, locale uint16, attr special.FileAttributes, old int) error {
	if enc.Flags&tables.FlagEncrypted != 0 {
		if err := enc.Encrypt(crypto.FileKeyFor(name, pos, enc.FileSize, enc.Flags&tables.FlagFixKey != 0)); err != nil {
			return err
		}
	}
	if err := m.writeAt(enc.Data, pos); err != nil {
		return err
	}
	if old != noSlot {
		m.release(old)
	}
	if _, err := m.hash.Insert(name, locale, tables.PlatformDefault, idx); err != nil {
		return err
	}

	m.setBlock(idx, enc.Block(pos), attr)
	m.metrics.RecordWrite(len(enc.Data))
	m.log().Debug("file stored",
		"name", name,
		"block", idx,
		"pos", pos,
		"size", enc.FileSize,
		"stored", len(enc.Data),
	)
	return nil
}

// allocate returns a block index and payload position for size bytes:
// a non-existing block whose region is large enough, or a new block at the
// end of the data area.
func (m *Mutable) allocate(size uint32) (uint32, uint64, error) {
	if i, ok := m.blocks.FindFree(size); ok {
		b, _ := m.blocks.Resolve(i)
		return i, b.FilePos, nil
	}
	idx, err := m.nextBlock()
	return idx, m.dataEnd, err
}

// nextBlock returns the index the next appended block gets.
func (m *Mutable) nextBlock() (uint32, error) {
	idx, err := sizing.ToUint32(m.blocks.Len(), ErrSizeOverflow)
	if err != nil {
		return 0, fmt.Errorf("block table: %w", err)
	}
	return idx, nil
}

// setBlock stores e at block i, appending when i is the next index.
func (m *Mutable) setBlock(i uint32, e tables.BlockEntry, attr special.FileAttributes) {
	if int(i) == m.blocks.Len() {
		m.blocks.Append(e)
	} else {
		m.blocks.Set(i, e)
	}
	for len(m.attrs) < m.blocks.Len() {
		m.attrs = append(m.attrs, special.FileAttributes{})
	}
	m.attrs[i] = attr
	m.dataEnd = max(m.dataEnd, e.FilePos+uint64(e.CompressedSize))
	m.dirty = true
}

// release tombstones slot and, when no other slot refers to its block,
// marks the block as free. The region stays reserved for reuse.
func (m *Mutable) release(slot int) {
	idx := m.hash.Entry(slot).BlockIndex
	m.hash.RemoveSlot(slot)
	m.dirty = true
	for _, e := range m.hash.Entries() {
		if e.State() == tables.SlotOccupied && e.BlockIndex == idx {
			return
		}
	}
	b, ok := m.blocks.Resolve(idx)
	if !ok {
		return
	}
	b.Flags = 0
	b.FileSize = 0
	m.blocks.Set(idx, b)
	if int(idx) < len(m.attrs) {
		m.attrs[idx] = special.FileAttributes{}
	}
}

func (m *Mutable) writeAt(p []byte, pos uint64) error {
	off, err := m.offset(pos)
	if err != nil {
		return err
	}
	if _, err := m.file.WriteAt(p, off); err != nil {
		return fmt.Errorf("%w: write at 0x%X: %w", ErrIO, off, err)
	}
	return nil
}

func (m *Mutable) readAt(p []byte, pos uint64) error {
	off, err := m.offset(pos)
	if err != nil {
		return err
	}
	return readFull(m.file, p, off)
}

func (m *Mutable) offset(pos uint64) (int64, error) {
	rel, err := sizing.ToInt64(pos, ErrSizeOverflow)
	if err != nil {
		return 0, err
	}
	return m.base + rel, nil
}

// remember records name for (listfile) and the extended tables.
func (m *Mutable) remember(name string) {
	if special.IsReserved(name) {
		return
	}
	m.names[strings.ToLower(name)] = name
}

// forget drops name once no locale of it is left.
func (m *Mutable) forget(name string) {
	if len(m.hash.FindAll(name)) == 0 {
		delete(m.names, strings.ToLower(name))
	}
}

// RemoveFile removes name, preferring the neutral locale when several
// locales exist.
func (m *Mutable) RemoveFile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	name = archiveName(name)
	slot, ok := preferNeutral(m.hash, name)
	if !ok {
		return fmt.Errorf("remove %s: %w", name, ErrNotFound)
	}
	m.release(slot)
	m.forget(name)
	m.log().Debug("file removed", "name", name, "slot", slot)
	return nil
}

// RenameFile moves oldName to newName. Encrypted payloads are re-encrypted
// in place under the key of the new name.
func (m *Mutable) RenameFile(oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	oldName, newName = archiveName(oldName), NormalizeName(newName)
	if err := checkName(newName); err != nil {
		return err
	}
	slot, ok := preferNeutral(m.hash, oldName)
	if !ok {
		return fmt.Errorf("rename %s: %w", oldName, ErrNotFound)
	}
	if len(m.hash.FindAll(newName)) > 0 {
		return fmt.Errorf("rename %s: %s: %w", oldName, newName, ErrExists)
	}

	e := m.hash.Entry(slot)
	block, ok := m.blocks.Resolve(e.BlockIndex)
	if !ok {
		return fmt.Errorf("%w: rename %s: block index %d out of range", ErrInvalidFormat, oldName, e.BlockIndex)
	}
	if err := m.rekey(block, oldName, newName); err != nil {
		return fmt.Errorf("rename %s: %w", oldName, err)
	}

	m.hash.RemoveSlot(slot)
	if _, err := m.hash.Insert(newName, e.Locale, e.Platform, e.BlockIndex); err != nil {
		_, _ = m.hash.Insert(oldName, e.Locale, e.Platform, e.BlockIndex) //nolint:errcheck // the freed slot is reused
		return fmt.Errorf("rename %s: %w", oldName, err)
	}
	m.forget(oldName)
	m.remember(newName)
	m.dirty = true
	m.log().Debug("file renamed", "from", oldName, "to", newName)
	return nil
}

// rekey re-encrypts an encrypted payload from the key of oldName to the
// key of newName.
func (m *Mutable) rekey(block tables.BlockEntry, oldName, newName string) error {
	if !block.Has(tables.FlagEncrypted) || block.FileSize == 0 {
		return nil
	}
	fixKey := block.Has(tables.FlagFixKey)
	oldKey := crypto.FileKeyFor(oldName, block.FilePos, block.FileSize, fixKey)
	newKey := crypto.FileKeyFor(newName, block.FilePos, block.FileSize, fixKey)
	if oldKey == newKey {
		return nil
	}
	raw := make([]byte, block.CompressedSize)
	if err := m.readAt(raw, block.FilePos); err != nil {
		return err
	}
	if err := sector.Rekey(raw, block, m.header.SectorSize(), oldKey, newKey); err != nil {
		return err
	}
	return m.writeAt(raw, block.FilePos)
}

// AddDeleteMarker records name as deleted. Patch chains treat a marker in a
// higher-priority archive as hiding the name in every archive below.
func (m *Mutable) AddDeleteMarker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	name = NormalizeName(name)
	if err := checkName(name); err != nil {
		return err
	}
	if slot, ok := m.hash.Find(name, tables.LocaleNeutral, tables.PlatformDefault); ok {
		m.release(slot)
	}
	idx, pos, err := m.allocate(0)
	if err != nil {
		return fmt.Errorf("delete marker %s: %w", name, err)
	}
	if _, err := m.hash.Insert(name, tables.LocaleNeutral, tables.PlatformDefault, idx); err != nil {
		return fmt.Errorf("delete marker %s: %w", name, err)
	}
	m.setBlock(idx, tables.BlockEntry{
		FilePos: pos,
		Flags:   tables.FlagExists | tables.FlagDeleteMarker,
	}, special.FileAttributes{})
	m.remember(name)
	return nil
}

// ReadFile returns the contents of name as currently stored, preferring the
// neutral locale.
func (m *Mutable) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	name = archiveName(name)
	slot, ok := preferNeutral(m.hash, name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	e := m.hash.Entry(slot)
	block, ok := m.blocks.Resolve(e.BlockIndex)
	if !ok || !block.Exists() {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	loc := location{name: name, slot: slot, blockIndex: e.BlockIndex, block: block}
	if err := checkReadable(loc); err != nil {
		return nil, err
	}
	var key uint32
	if block.Has(tables.FlagEncrypted) {
		key = crypto.FileKeyFor(name, block.FilePos, block.FileSize, block.Has(tables.FlagFixKey))
	}
	limit, err := sizing.ToInt64(m.dataEnd, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	data, _, err := sector.Read(m.file, m.base, block, key, sector.Options{
		SectorSize: m.header.SectorSize(),
		Strict:     m.strictCRC,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Close flushes pending changes and closes the file. Calling Close more
// than once is safe.
func (m *Mutable) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	flushErr := m.flushLocked()
	m.closed = true
	closeErr := m.file.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close archive: %w", ErrIO, closeErr)
	}
	return nil
}

// report sends a progress event when a progress function is configured.
func (m *Mutable) report(ev ProgressEvent) {
	if m.progress != nil {
		m.progress(ev)
	}
}
