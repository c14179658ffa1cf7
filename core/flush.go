package mpq

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/format"
	"github.com/meigma/mpq/core/internal/sector"
	"github.com/meigma/mpq/core/internal/signature"
	"github.com/meigma/mpq/core/internal/sizing"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// Flush writes (listfile), (attributes), the index tables and the header,
// and syncs the file. After Flush the file is a consistent archive.
func (m *Mutable) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	return m.flushLocked()
}

func (m *Mutable) flushLocked() error {
	if !m.dirty {
		return nil
	}
	start := time.Now()
	if m.listfile {
		if err := m.writeListfile(); err != nil {
			return fmt.Errorf("flush: listfile: %w", err)
		}
	}
	if m.attributes {
		if err := m.writeAttributes(); err != nil {
			return fmt.Errorf("flush: attributes: %w", err)
		}
	}
	m.report(ProgressEvent{Stage: StageWritingTables, FilesTotal: m.blocks.Len()})
	if err := m.writeTables(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync archive: %w", ErrIO, err)
	}
	m.dirty = false
	d := time.Since(start)
	m.metrics.RecordFlush(d)
	m.log().Debug("archive flushed",
		"path", m.path,
		"archive_size", m.header.ArchiveSize(),
		"blocks", m.blocks.Len(),
		"duration", d,
	)
	return nil
}

// sortedNames returns the recorded names in byte order.
func (m *Mutable) sortedNames() []string {
	names := make([]string, 0, len(m.names))
	for _, name := range m.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Mutable) writeListfile() error {
	cfg := newAddConfig([]AddOption{WithReplace()})
	_, err := m.store(special.ListfileName, special.FormatListfile(m.sortedNames()), cfg)
	return err
}

// writeAttributes stores (attributes) with one record per block. The record
// of the attributes file itself stays zero.
func (m *Mutable) writeAttributes() error {
	old := noSlot
	if slot, ok := m.hash.Find(special.AttributesName, tables.LocaleNeutral, tables.PlatformDefault); ok {
		old = slot
	}
	cfg := newAddConfig(nil)

	// Encode for the current block count first. When no free block can hold
	// the result it is appended, which adds a record.
	count := m.blocks.Len()
	enc, err := m.encodeAttributes(count, cfg)
	if err != nil {
		return err
	}
	idx, ok := m.blocks.FindFree(enc.CompressedSize())
	var pos uint64
	if ok {
		b, _ := m.blocks.Resolve(idx)
		pos = b.FilePos
	} else {
		if enc, err = m.encodeAttributes(count+1, cfg); err != nil {
			return err
		}
		if idx, err = m.nextBlock(); err != nil {
			return err
		}
		pos = m.dataEnd
	}
	return m.place(special.AttributesName, enc, idx, pos, tables.LocaleNeutral, special.FileAttributes{}, old)
}

func (m *Mutable) encodeAttributes(count int, cfg addConfig) (*sector.Encoded, error) {
	files := make([]special.FileAttributes, count)
	copy(files, m.attrs)
	attrs := special.Attributes{Version: special.AttributesVersion, Flags: m.attrFlags, Files: files}
	data, err := attrs.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return m.encode(data, cfg)
}

// writeTables writes the index tables after the last payload, followed by
// the header, and truncates anything beyond.
func (m *Mutable) writeTables() error {
	h := m.header
	pos := m.dataEnd

	var (
		het, bet []byte
		err      error
	)
	if h.Version >= V3 {
		if het, bet, err = m.buildExtTables(); err != nil {
			return err
		}
	}
	hash := m.hash.Encode()
	block, hi, err := m.blocks.Encode()
	if err != nil {
		return err
	}
	if hi != nil && h.Version < V2 {
		return fmt.Errorf("%w: block positions beyond 4 GiB need a v2 header", ErrTableEncoding)
	}

	put := func(raw []byte) (uint64, error) {
		if raw == nil {
			return 0, nil
		}
		at := pos
		if err := m.writeAt(raw, at); err != nil {
			return 0, err
		}
		pos += uint64(len(raw))
		return at, nil
	}
	if h.HETTablePos, err = put(het); err != nil {
		return err
	}
	if h.BETTablePos, err = put(bet); err != nil {
		return err
	}
	if h.HashTablePos, err = put(hash); err != nil {
		return err
	}
	if h.BlockTablePos, err = put(block); err != nil {
		return err
	}
	if h.HiBlockTablePos, err = put(hi); err != nil {
		return err
	}

	h.HeaderSize = h.Version.HeaderSize()
	if h.HashTableCount, err = sizing.ToUint32(m.hash.Len(), ErrSizeOverflow); err != nil {
		return fmt.Errorf("hash table: %w", err)
	}
	if h.BlockTableCount, err = m.nextBlock(); err != nil {
		return err
	}
	h.ArchiveSize32 = uint32(min(pos, math.MaxUint32))
	if h.Version >= V3 {
		h.ArchiveSize64 = pos
	}
	if h.Version >= V4 {
		h.HETTableSize64 = uint64(len(het))
		h.BETTableSize64 = uint64(len(bet))
		h.HashTableSize64 = uint64(len(hash))
		h.BlockTableSize64 = uint64(len(block))
		h.HiBlockTableSize64 = uint64(len(hi))
		h.MD5HETTable = digestOrZero(het)
		h.MD5BETTable = digestOrZero(bet)
		h.MD5HashTable = format.Digest(hash)
		h.MD5BlockTable = format.Digest(block)
		h.MD5HiBlockTable = digestOrZero(hi)
	}

	raw, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := m.file.WriteAt(raw, m.base); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrIO, err)
	}
	end, err := m.offset(pos)
	if err != nil {
		return err
	}
	if err := m.file.Truncate(end); err != nil {
		return fmt.Errorf("%w: truncate archive: %w", ErrIO, err)
	}
	m.header = h
	return nil
}

func digestOrZero(raw []byte) [16]byte {
	if raw == nil {
		return [16]byte{}
	}
	return format.Digest(raw)
}

// buildExtTables encodes HET and BET tables for the neutral-locale entries.
// They are left out when some live entry has no known name, since the HET
// table cannot be built without names.
func (m *Mutable) buildExtTables() (het, bet []byte, err error) {
	names := m.sortedNames()
	for _, reserved := range []string{special.ListfileName, special.AttributesName, special.SignatureName} {
		if len(m.hash.FindAll(reserved)) > 0 {
			names = append(names, reserved)
		}
	}

	known := 0
	entries := make([]tables.HETEntry, 0, len(names))
	nameHashes := make([]uint64, m.blocks.Len())
	for _, name := range names {
		slots := m.hash.FindAll(name)
		known += len(slots)
		slot, ok := m.hash.Find(name, tables.LocaleNeutral, tables.PlatformDefault)
		if !ok {
			continue
		}
		idx := m.hash.Entry(slot).BlockIndex
		entries = append(entries, tables.HETEntry{Name: name, Index: idx})
		if int(idx) < len(nameHashes) {
			nameHashes[idx] = tables.NameHash(name, tables.DefaultNameHashBits)
		}
	}
	if known != m.hash.LiveCount() {
		m.log().Warn("skipping HET/BET tables: archive has unnamed entries",
			"named", known,
			"live", m.hash.LiveCount(),
		)
		return nil, nil, nil
	}

	count, err := m.nextBlock()
	if err != nil {
		return nil, nil, err
	}
	het = tables.BuildHET(entries, count).Encode(compress.Zlib)
	bet = tables.BuildBET(m.blocks.Entries(), nameHashes, tables.DefaultNameHashBits).Encode(compress.Zlib)
	return het, bet, nil
}

// SignWeak stores a weak signature made with priv in (signature). The
// archive is flushed first; any later change invalidates the signature.
func (m *Mutable) SignWeak(priv *PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	cfg := newAddConfig([]AddOption{WithCompression(0), WithReplace()})
	idx, err := m.store(special.SignatureName, make([]byte, signature.WeakFileSize), cfg)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	m.attrs[idx] = special.FileAttributes{}
	if err := m.flushLocked(); err != nil {
		return err
	}

	block, _ := m.blocks.Resolve(idx)
	sigStart, err := m.offset(block.FilePos)
	if err != nil {
		return err
	}
	end, err := m.offset(m.header.ArchiveSize())
	if err != nil {
		return err
	}
	digest, err := signature.WeakDigest(m.file, m.base, end, sigStart, sigStart+signature.WeakFileSize)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	sig, err := signature.SignWeak(priv, digest)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	raw := make([]byte, signature.WeakHeaderSize, signature.WeakFileSize)
	raw = append(raw, sig...)
	if _, err := m.file.WriteAt(raw, sigStart); err != nil {
		return fmt.Errorf("%w: write signature: %w", ErrIO, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync archive: %w", ErrIO, err)
	}
	m.log().Debug("archive signed", "kind", SignatureWeak.String())
	return nil
}

// SignStrong appends a strong signature made with priv after the archive.
// The signature covers the user data, when present, through the end of the
// archive. The archive is flushed first.
func (m *Mutable) SignStrong(priv *PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if err := m.flushLocked(); err != nil {
		return err
	}

	start := m.base
	if m.userDataAt >= 0 {
		start = m.userDataAt
	}
	end, err := m.offset(m.header.ArchiveSize())
	if err != nil {
		return err
	}
	digest, err := signature.StrongDigest(m.file, start, end)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	block := signature.SignStrong(priv, digest)
	if _, err := m.file.WriteAt(block, end); err != nil {
		return fmt.Errorf("%w: write signature: %w", ErrIO, err)
	}
	if err := m.file.Truncate(end + int64(len(block))); err != nil {
		return fmt.Errorf("%w: truncate archive: %w", ErrIO, err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync archive: %w", ErrIO, err)
	}
	m.log().Debug("archive signed", "kind", SignatureStrong.String())
	return nil
}
