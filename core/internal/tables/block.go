package tables

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/sizing"
)

// Block flags.
const (
	FlagImplode      uint32 = 0x00000100
	FlagCompress     uint32 = 0x00000200
	FlagEncrypted    uint32 = 0x00010000
	FlagFixKey       uint32 = 0x00020000
	FlagPatchFile    uint32 = 0x00100000
	FlagSingleUnit   uint32 = 0x01000000
	FlagDeleteMarker uint32 = 0x02000000
	FlagSectorCRC    uint32 = 0x04000000
	FlagExists       uint32 = 0x80000000

	// FlagCompressMask covers both compression flags.
	FlagCompressMask = FlagImplode | FlagCompress
)

// Entry sizes of the block and hi-block tables.
const (
	BlockEntrySize   = 16
	HiBlockEntrySize = 2
)

// BlockEntry describes where a file's payload lives and how it is stored.
// The size fields are only meaningful when FlagExists is set.
type BlockEntry struct {
	FilePos        uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

// Exists reports whether the entry describes a stored file.
func (e BlockEntry) Exists() bool { return e.Flags&FlagExists != 0 }

// Has reports whether all bits of flag are set.
func (e BlockEntry) Has(flag uint32) bool { return e.Flags&flag == flag }

// Compressed reports whether either compression flag is set.
func (e BlockEntry) Compressed() bool { return e.Flags&FlagCompressMask != 0 }

// BlockTable is the array of block entries, indexed by the hash table.
type BlockTable struct {
	entries []BlockEntry
}

// NewBlockTable returns an empty block table.
func NewBlockTable() *BlockTable { return &BlockTable{} }

// DecodeBlockTable decrypts (and if needed decompresses) a stored block
// table of count entries. hi is the raw hi-block table, or nil.
func DecodeBlockTable(raw []byte, count uint32, hi []byte) (*BlockTable, error) {
	want, ok := sizing.MulUint32(count, BlockEntrySize)
	if !ok || count > maxEntries {
		return nil, fmt.Errorf("%w: block table count %d exceeds %d", ErrInvalidFormat, count, maxEntries)
	}
	buf, err := unpackTable(raw, int(want), BlockTableKey)
	if err != nil {
		return nil, err
	}
	if hiWant := count * HiBlockEntrySize; hi != nil && len(hi) < int(hiWant) {
		return nil, fmt.Errorf("%w: hi-block table holds %d bytes, need %d", ErrInvalidFormat, len(hi), hiWant)
	}

	t := &BlockTable{entries: make([]BlockEntry, count)}
	for i := range t.entries {
		p := buf[i*BlockEntrySize:]
		pos := uint64(binary.LittleEndian.Uint32(p[0:]))
		if hi != nil {
			pos |= uint64(binary.LittleEndian.Uint16(hi[i*HiBlockEntrySize:])) << 32
		}
		t.entries[i] = BlockEntry{
			FilePos:        pos,
			CompressedSize: binary.LittleEndian.Uint32(p[4:]),
			FileSize:       binary.LittleEndian.Uint32(p[8:]),
			Flags:          binary.LittleEndian.Uint32(p[12:]),
		}
	}
	return t, nil
}

// Encode serializes and encrypts the block table. The hi-block table is
// returned only when some position does not fit in 32 bits.
func (t *BlockTable) Encode() (block, hi []byte, err error) {
	block = make([]byte, len(t.entries)*BlockEntrySize)
	needHi := false
	for i, e := range t.entries {
		if e.FilePos>>48 != 0 {
			return nil, nil, fmt.Errorf("%w: block %d position 0x%X exceeds 48 bits", ErrTableEncoding, i, e.FilePos)
		}
		if e.FilePos>>32 != 0 {
			needHi = true
		}
		p := block[i*BlockEntrySize:]
		binary.LittleEndian.PutUint32(p[0:], uint32(e.FilePos)) //nolint:gosec // low word; high word goes to the hi-block table
		binary.LittleEndian.PutUint32(p[4:], e.CompressedSize)
		binary.LittleEndian.PutUint32(p[8:], e.FileSize)
		binary.LittleEndian.PutUint32(p[12:], e.Flags)
	}
	crypto.Encrypt(block, BlockTableKey)

	if needHi {
		hi = make([]byte, len(t.entries)*HiBlockEntrySize)
		for i, e := range t.entries {
			binary.LittleEndian.PutUint16(hi[i*HiBlockEntrySize:], uint16(e.FilePos>>32)) //nolint:gosec // checked above
		}
	}
	return block, hi, nil
}

// Len returns the number of entries.
func (t *BlockTable) Len() int { return len(t.entries) }

// Resolve returns entry i.
func (t *BlockTable) Resolve(i uint32) (BlockEntry, bool) {
	if uint64(i) >= uint64(len(t.entries)) {
		return BlockEntry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of all entries in table order.
func (t *BlockTable) Entries() []BlockEntry {
	out := make([]BlockEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Clone returns a deep copy of the table.
func (t *BlockTable) Clone() *BlockTable {
	return &BlockTable{entries: t.Entries()}
}

// Append adds e and returns its index.
func (t *BlockTable) Append(e BlockEntry) uint32 {
	t.entries = append(t.entries, e)
	return uint32(len(t.entries) - 1) //nolint:gosec // block counts fit in uint32
}

// Set replaces entry i.
func (t *BlockTable) Set(i uint32, e BlockEntry) {
	t.entries[i] = e
}

// FindFree returns the index of a non-existing entry whose region can hold
// size bytes. Entries with a zero-sized region are reused only for empty
// payloads.
func (t *BlockTable) FindFree(size uint32) (uint32, bool) {
	for i, e := range t.entries {
		if e.Exists() {
			continue
		}
		if e.CompressedSize >= size && (e.FilePos != 0 || size == 0) {
			return uint32(i), true //nolint:gosec // block counts fit in uint32
		}
	}
	return 0, false
}

// End returns the first byte past the furthest payload region, relative to
// the archive start.
func (t *BlockTable) End() uint64 {
	var end uint64
	for _, e := range t.entries {
		if e.FilePos == 0 && e.CompressedSize == 0 {
			continue
		}
		end = max(end, e.FilePos+uint64(e.CompressedSize))
	}
	return end
}
