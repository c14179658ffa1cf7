package mpq

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/sector"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// RebuildOption configures Rebuild. Version, hash table size and user data
// default to those of the source archive.
type RebuildOption = CreateOption

// rebuildRef is one name linked to a block of the source archive.
type rebuildRef struct {
	name     string
	locale   uint16
	platform uint16
}

// rebuildBlock is a live source block with every name that refers to it.
type rebuildBlock struct {
	index uint32
	block tables.BlockEntry
	refs  []rebuildRef
}

// Rebuild copies every live file of the archive at src into a fresh archive
// at dst, in block order. Tombstones, freed blocks and the space they held
// are dropped, (listfile) and (attributes) are regenerated, and a weak
// signature is not carried over. Payloads are copied without decoding;
// fix-key encrypted payloads are re-encrypted for their new position.
//
// Every live entry must be named by (listfile), since entries cannot be
// moved without their names. The sector size cannot be changed.
//
// dst is written through a temporary file in the same directory and
// renamed into place, so src and dst may be the same path.
func Rebuild(ctx context.Context, src, dst string, opts ...RebuildOption) error {
	cfg := newCreateConfig(opts)
	a, err := Open(src, cfg.archive...)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := rebuildConfig(&cfg, a); err != nil {
		return err
	}
	blocks, err := a.rebuildBlocks()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".mpq-rebuild-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	m, err := newMutable(tmp, tmpPath, cfg)
	if err == nil {
		err = m.copyPrefix(a)
	}
	if err == nil {
		err = m.copyBlocks(ctx, a, blocks)
	}
	if err == nil {
		err = m.Close()
	} else {
		_ = tmp.Close() //nolint:errcheck // best-effort cleanup
	}
	if err == nil {
		if err = os.Rename(tmpPath, dst); err != nil {
			err = fmt.Errorf("%w: rename rebuilt archive: %w", ErrIO, err)
		}
	}
	if err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return err
	}
	a.log().Info("archive rebuilt", "src", src, "dst", dst, "blocks", len(blocks))
	return nil
}

// rebuildConfig fills the settings not given explicitly from a.
func rebuildConfig(cfg *createConfig, a *Archive) error {
	h := a.header
	if !cfg.setVersion {
		cfg.version = h.Version
	}
	if !cfg.setHashSize {
		cfg.hashTableSize = max(h.HashTableCount, DefaultHashTableSize)
	}
	if !cfg.setShift {
		cfg.sectorShift = h.SectorSizeShift
	}
	if cfg.sectorShift != h.SectorSizeShift {
		return fmt.Errorf("%w: rebuild cannot change the sector size", ErrInvalidFormat)
	}
	if !cfg.setUserData && a.userData != nil {
		cfg.userData = a.userData.Data
	}
	if attrs, err := a.Attributes(); err == nil {
		cfg.attrFlags = attrs.Flags
	}
	return cfg.validate()
}

// rebuildBlocks collects the live blocks of a in position order together
// with the names that refer to them.
func (a *Archive) rebuildBlocks() ([]*rebuildBlock, error) {
	names, err := a.Listfile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	names = append(names, special.ListfileName, special.AttributesName, special.SignatureName)

	byIndex := make(map[uint32]*rebuildBlock)
	add := func(idx uint32, ref rebuildRef) {
		b, ok := byIndex[idx]
		if !ok {
			block, _ := a.blocks.Resolve(idx)
			b = &rebuildBlock{index: idx, block: block}
			byIndex[idx] = b
		}
		b.refs = append(b.refs, ref)
	}

	if a.hash == nil {
		for _, name := range names {
			loc, err := a.resolve(name, tables.LocaleNeutral, true)
			if err != nil {
				continue
			}
			add(loc.blockIndex, rebuildRef{name: archiveName(name)})
		}
		if len(byIndex) != countExisting(a.blocks) {
			return nil, fmt.Errorf("rebuild: archive has entries missing from (listfile): %w", ErrNotFound)
		}
	} else {
		named := make(map[int]string)
		for _, name := range names {
			for _, slot := range a.hash.FindAll(name) {
				named[slot] = archiveName(name)
			}
		}
		for i, e := range a.hash.Entries() {
			if e.State() != tables.SlotOccupied {
				continue
			}
			block, ok := a.blocks.Resolve(e.BlockIndex)
			if !ok || !block.Exists() {
				continue
			}
			name, ok := named[i]
			if !ok {
				return nil, fmt.Errorf("rebuild: hash slot %d is missing from (listfile): %w", i, ErrNotFound)
			}
			add(e.BlockIndex, rebuildRef{name: name, locale: e.Locale, platform: e.Platform})
		}
	}

	out := make([]*rebuildBlock, 0, len(byIndex))
	for _, b := range byIndex {
		out = append(out, b)
	}
	slices.SortFunc(out, func(x, y *rebuildBlock) int {
		return cmp.Or(cmp.Compare(x.block.FilePos, y.block.FilePos), cmp.Compare(x.index, y.index))
	})
	return out, nil
}

func countExisting(t *tables.BlockTable) int {
	n := 0
	for _, b := range t.Entries() {
		if b.Exists() {
			n++
		}
	}
	return n
}

// copyPrefix copies bytes in front of the source header that are not a
// user-data block, such as an executable stub.
func (m *Mutable) copyPrefix(a *Archive) error {
	if a.userData != nil || a.base == 0 {
		return nil
	}
	prefix := make([]byte, a.base)
	if err := readFull(a.source, prefix, 0); err != nil {
		return err
	}
	if _, err := m.file.WriteAt(prefix, 0); err != nil {
		return fmt.Errorf("%w: write prefix: %w", ErrIO, err)
	}
	m.base = a.base
	return nil
}

// copyBlocks appends the raw payload of every block and links its names.
func (m *Mutable) copyBlocks(ctx context.Context, a *Archive, blocks []*rebuildBlock) error {
	var srcAttrs []special.FileAttributes
	if attrs, err := a.Attributes(); err == nil {
		srcAttrs = attrs.Files
	}

	var bytesDone uint64
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs := slices.DeleteFunc(b.refs, func(r rebuildRef) bool { return special.IsReserved(r.name) })
		if len(refs) == 0 {
			continue
		}

		if err := sector.CheckBounds(b.block, a.source.Size()-a.base); err != nil {
			return fmt.Errorf("rebuild %s: %w", refs[0].name, err)
		}
		raw := make([]byte, b.block.CompressedSize)
		off, err := a.offset(b.block.FilePos)
		if err != nil {
			return err
		}
		if err := readFull(a.source, raw, off); err != nil {
			return err
		}

		idx, pos, err := m.allocate(b.block.CompressedSize)
		if err != nil {
			return err
		}
		block := b.block
		block.FilePos = pos
		if err := m.rekeyForMove(raw, b.block, block, refs[0].name); err != nil {
			return fmt.Errorf("rebuild %s: %w", refs[0].name, err)
		}
		if err := m.writeAt(raw, pos); err != nil {
			return err
		}
		for _, r := range refs {
			if _, err := m.hash.Insert(r.name, r.locale, r.platform, idx); err != nil {
				return fmt.Errorf("rebuild %s: %w", r.name, err)
			}
			m.remember(r.name)
		}
		var attr special.FileAttributes
		if int(b.index) < len(srcAttrs) {
			attr = srcAttrs[b.index]
		}
		m.setBlock(idx, block, attr)

		bytesDone += uint64(len(raw))
		m.report(ProgressEvent{
			Stage:      StageRebuilding,
			Path:       refs[0].name,
			BytesDone:  bytesDone,
			FilesDone:  i + 1,
			FilesTotal: len(blocks),
		})
	}
	return nil
}

// rekeyForMove re-encrypts a fix-key payload whose position changes.
func (m *Mutable) rekeyForMove(raw []byte, from, to tables.BlockEntry, name string) error {
	if !from.Has(tables.FlagEncrypted) || !from.Has(tables.FlagFixKey) || from.FilePos == to.FilePos || from.FileSize == 0 {
		return nil
	}
	oldKey := crypto.FileKeyFor(name, from.FilePos, from.FileSize, true)
	newKey := crypto.FileKeyFor(name, to.FilePos, to.FileSize, true)
	return sector.Rekey(raw, from, m.header.SectorSize(), oldKey, newKey)
}

// Compact flushes pending changes and rebuilds the archive in place,
// reclaiming the space of removed and replaced files.
func (m *Mutable) Compact(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	if err := m.flushLocked(); err != nil {
		return err
	}

	opts := []Option{WithLogger(m.logger), WithMetrics(m.metrics), WithProgress(m.progress)}
	if err := Rebuild(ctx, m.path, m.path, WithArchiveOptions(opts...)); err != nil {
		return err
	}

	f, err := os.OpenFile(m.path, os.O_RDWR, 0) //nolint:gosec // path was opened before
	if err != nil {
		return fmt.Errorf("%w: reopen archive: %w", ErrIO, err)
	}
	n, err := loadMutable(f, m.path, opts)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	_ = m.file.Close() //nolint:errcheck // the rebuilt archive replaced it
	m.file = n.file
	m.base = n.base
	m.userDataAt = n.userDataAt
	m.header = n.header
	m.hash = n.hash
	m.blocks = n.blocks
	m.attrs = n.attrs
	m.attrFlags = n.attrFlags
	m.names = n.names
	m.dataEnd = n.dataEnd
	m.listfile = n.listfile
	m.attributes = n.attributes
	m.dirty = false
	return nil
}
