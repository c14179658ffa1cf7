package tables

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/meigma/mpq/core/internal/compress"
)

const (
	betHeaderSize = 76
	betUnknown08  = 0x10
)

// BETHeader is the fixed part of a BET table body. Field positions and
// widths are in bits within one table entry.
type BETHeader struct {
	TableSize        uint32
	FileCount        uint32
	Unknown08        uint32
	TableEntryBits   uint32
	BitIndexFilePos  uint32
	BitIndexFileSize uint32
	BitIndexCmpSize  uint32
	BitIndexFlag     uint32
	BitIndexUnknown  uint32
	BitCountFilePos  uint32
	BitCountFileSize uint32
	BitCountCmpSize  uint32
	BitCountFlag     uint32
	BitCountUnknown  uint32
	TotalHashBits    uint32
	HashBitsExtra    uint32
	HashBits         uint32
	HashArraySize    uint32
	FlagCount        uint32
}

func (h *BETHeader) fields() []*uint32 {
	return []*uint32{
		&h.TableSize, &h.FileCount, &h.Unknown08, &h.TableEntryBits,
		&h.BitIndexFilePos, &h.BitIndexFileSize, &h.BitIndexCmpSize, &h.BitIndexFlag, &h.BitIndexUnknown,
		&h.BitCountFilePos, &h.BitCountFileSize, &h.BitCountCmpSize, &h.BitCountFlag, &h.BitCountUnknown,
		&h.TotalHashBits, &h.HashBitsExtra, &h.HashBits, &h.HashArraySize, &h.FlagCount,
	}
}

// BETTable is the compact block table of v3+ archives, stored as a
// struct-of-arrays of bit-packed fields.
type BETTable struct {
	Header BETHeader
	flags  []uint32
	table  BitArray
	hashes BitArray
}

// DecodeBET parses a stored BET table.
func DecodeBET(raw []byte) (*BETTable, error) {
	body, err := readExtTable(raw, betSignature, BlockTableKey)
	if err != nil {
		return nil, fmt.Errorf("bet: %w", err)
	}
	if len(body) < betHeaderSize {
		return nil, fmt.Errorf("%w: bet header truncated", ErrInvalidFormat)
	}
	t := &BETTable{}
	for i, f := range t.Header.fields() {
		*f = binary.LittleEndian.Uint32(body[i*4:])
	}
	h := &t.Header

	for _, w := range []uint32{h.BitCountFilePos, h.BitCountFileSize, h.BitCountCmpSize, h.BitCountFlag, h.BitCountUnknown, h.HashBits} {
		if w > 64 {
			return nil, fmt.Errorf("%w: bet field width %d", ErrInvalidFormat, w)
		}
	}

	if h.FileCount > maxEntries {
		return nil, fmt.Errorf("%w: bet file count %d exceeds %d", ErrInvalidFormat, h.FileCount, maxEntries)
	}

	pos := uint64(betHeaderSize)
	flagBytes := uint64(h.FlagCount) * 4
	tableBytes := (uint64(h.FileCount)*uint64(h.TableEntryBits) + 7) / 8
	need := pos + flagBytes + tableBytes + uint64(h.HashArraySize)
	if uint64(len(body)) < need {
		return nil, fmt.Errorf("%w: bet body holds %d bytes, need %d", ErrInvalidFormat, len(body), need)
	}

	t.flags = make([]uint32, h.FlagCount)
	for i := range t.flags {
		t.flags[i] = binary.LittleEndian.Uint32(body[pos+uint64(i)*4:])
	}
	pos += flagBytes
	t.table = BitArray(body[pos : pos+tableBytes])
	pos += tableBytes
	t.hashes = BitArray(body[pos : pos+uint64(h.HashArraySize)])
	return t, nil
}

// Len returns the number of entries.
func (t *BETTable) Len() int { return int(t.Header.FileCount) }

// Entry returns entry i decoded through the header's bit positions.
func (t *BETTable) Entry(i uint32) (BlockEntry, bool) {
	h := &t.Header
	if i >= h.FileCount {
		return BlockEntry{}, false
	}
	base := uint64(i) * uint64(h.TableEntryBits)
	filePos := t.table.Get(base+uint64(h.BitIndexFilePos), h.BitCountFilePos)
	fileSize := t.table.Get(base+uint64(h.BitIndexFileSize), h.BitCountFileSize)
	cmpSize := t.table.Get(base+uint64(h.BitIndexCmpSize), h.BitCountCmpSize)
	flagIndex := t.table.Get(base+uint64(h.BitIndexFlag), h.BitCountFlag)

	var flags uint32
	if flagIndex < uint64(len(t.flags)) {
		flags = t.flags[flagIndex]
	}
	return BlockEntry{
		FilePos:        filePos,
		CompressedSize: uint32(cmpSize),  //nolint:gosec // classic sizes are 32-bit
		FileSize:       uint32(fileSize), //nolint:gosec // classic sizes are 32-bit
		Flags:          flags,
	}, true
}

// NameHash2 returns the low name hash bits stored for entry i.
func (t *BETTable) NameHash2(i uint32) (uint64, bool) {
	h := &t.Header
	if i >= h.FileCount {
		return 0, false
	}
	stride := uint64(h.HashBits + h.HashBitsExtra)
	return t.hashes.Get(uint64(i)*stride, h.HashBits), true
}

// Blocks materializes the table as a BlockTable.
func (t *BETTable) Blocks() *BlockTable {
	bt := &BlockTable{entries: make([]BlockEntry, t.Header.FileCount)}
	for i := range bt.entries {
		bt.entries[i], _ = t.Entry(uint32(i)) //nolint:gosec // bounded by FileCount
	}
	return bt
}

// BuildBET builds a BET table for blocks. nameHashes holds the full HET name
// hash of the file stored in each block, or zero for blocks without a name.
func BuildBET(blocks []BlockEntry, nameHashes []uint64, hashBits uint32) *BETTable {
	var maxPos, maxSize, maxCmp uint64
	var flags []uint32
	flagIndex := make([]int, len(blocks))
	for i, b := range blocks {
		maxPos = max(maxPos, b.FilePos)
		maxSize = max(maxSize, uint64(b.FileSize))
		maxCmp = max(maxCmp, uint64(b.CompressedSize))
		j := slices.Index(flags, b.Flags)
		if j < 0 {
			flags = append(flags, b.Flags)
			j = len(flags) - 1
		}
		flagIndex[i] = j
	}

	h := BETHeader{
		FileCount:        uint32(len(blocks)), //nolint:gosec // block counts fit in uint32
		Unknown08:        betUnknown08,
		BitCountFilePos:  bitsFor(maxPos),
		BitCountFileSize: bitsFor(maxSize),
		BitCountCmpSize:  bitsFor(maxCmp),
		BitCountFlag:     bitsFor(uint64(max(len(flags)-1, 0))),
		HashBits:         hashBits - 8,
		FlagCount:        uint32(len(flags)), //nolint:gosec // bounded by block count
	}
	h.BitIndexFileSize = h.BitIndexFilePos + h.BitCountFilePos
	h.BitIndexCmpSize = h.BitIndexFileSize + h.BitCountFileSize
	h.BitIndexFlag = h.BitIndexCmpSize + h.BitCountCmpSize
	h.BitIndexUnknown = h.BitIndexFlag + h.BitCountFlag
	h.TableEntryBits = h.BitIndexUnknown + h.BitCountUnknown
	h.TotalHashBits = h.FileCount * h.HashBits
	h.HashArraySize = (h.TotalHashBits + 7) / 8

	t := &BETTable{
		Header: h,
		flags:  flags,
		table:  NewBitArray(uint64(h.FileCount) * uint64(h.TableEntryBits)),
		hashes: make(BitArray, h.HashArraySize),
	}
	hashMask := uint64(1)<<h.HashBits - 1
	for i, b := range blocks {
		base := uint64(i) * uint64(h.TableEntryBits)
		t.table.Set(base+uint64(h.BitIndexFilePos), h.BitCountFilePos, b.FilePos)
		t.table.Set(base+uint64(h.BitIndexFileSize), h.BitCountFileSize, uint64(b.FileSize))
		t.table.Set(base+uint64(h.BitIndexCmpSize), h.BitCountCmpSize, uint64(b.CompressedSize))
		t.table.Set(base+uint64(h.BitIndexFlag), h.BitCountFlag, uint64(flagIndex[i])) //nolint:gosec // non-negative
		if i < len(nameHashes) {
			t.hashes.Set(uint64(i)*uint64(h.HashBits), h.HashBits, nameHashes[i]&hashMask)
		}
	}
	t.Header.TableSize = uint32(extHeaderSize+betHeaderSize+4*len(flags)+len(t.table)) + h.HashArraySize //nolint:gosec // small
	return t
}

// Encode serializes the table, compressing the body with mask when that
// helps, and encrypts it.
func (t *BETTable) Encode(mask compress.Mask) []byte {
	size := betHeaderSize + 4*len(t.flags) + len(t.table) + len(t.hashes)
	body := make([]byte, betHeaderSize, size)
	for i, f := range t.Header.fields() {
		binary.LittleEndian.PutUint32(body[i*4:], *f)
	}
	for _, f := range t.flags {
		body = binary.LittleEndian.AppendUint32(body, f)
	}
	body = append(body, t.table...)
	body = append(body, t.hashes...)
	return writeExtTable(betSignature, body, BlockTableKey, mask)
}
