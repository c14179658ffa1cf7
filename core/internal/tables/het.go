package tables

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/crypto"
)

// HET slot markers.
const (
	hetFree    = 0x00
	hetDeleted = 0x80
)

const (
	hetHeaderSize = 32

	// DefaultNameHashBits is the name hash width written by BuildHET.
	DefaultNameHashBits = 64
)

// HETHeader is the fixed part of a HET table body.
type HETHeader struct {
	TableSize      uint32
	MaxFileCount   uint32
	HashTableSize  uint32
	HashEntryBits  uint32
	TotalIndexBits uint32
	IndexBitsExtra uint32
	IndexBits      uint32
	BlockTableSize uint32
}

// HETTable is the compact name index of v3+ archives. Each slot holds an
// 8-bit fragment of the name hash; the matching BET index is stored in a
// parallel bit-packed array.
type HETTable struct {
	Header  HETHeader
	names   []byte
	indexes BitArray
}

// NameHash returns the masked name hash of name for a table using bits-wide
// hashes, with the top bit forced on.
func NameHash(name string, bits uint32) uint64 {
	h := crypto.NameHash64(name)
	if bits < 64 {
		h &= 1<<bits - 1
	}
	return h | 1<<(bits-1)
}

// DecodeHET parses a stored HET table.
func DecodeHET(raw []byte) (*HETTable, error) {
	body, err := readExtTable(raw, hetSignature, HashTableKey)
	if err != nil {
		return nil, fmt.Errorf("het: %w", err)
	}
	if len(body) < hetHeaderSize {
		return nil, fmt.Errorf("%w: het header truncated", ErrInvalidFormat)
	}
	var h HETHeader
	fields := []*uint32{
		&h.TableSize, &h.MaxFileCount, &h.HashTableSize, &h.HashEntryBits,
		&h.TotalIndexBits, &h.IndexBitsExtra, &h.IndexBits, &h.BlockTableSize,
	}
	for i, f := range fields {
		*f = binary.LittleEndian.Uint32(body[i*4:])
	}

	if h.HashEntryBits < 8 || h.HashEntryBits > 64 {
		return nil, fmt.Errorf("%w: het name hash width %d", ErrInvalidFormat, h.HashEntryBits)
	}
	if h.IndexBits == 0 || h.IndexBits > 32 {
		return nil, fmt.Errorf("%w: het index width %d", ErrInvalidFormat, h.IndexBits)
	}
	names := uint64(h.HashTableSize)
	indexBytes := (names*uint64(h.IndexBits+h.IndexBitsExtra) + 7) / 8
	need := uint64(hetHeaderSize) + names + indexBytes
	if uint64(len(body)) < need {
		return nil, fmt.Errorf("%w: het body holds %d bytes, need %d", ErrInvalidFormat, len(body), need)
	}

	start := uint64(hetHeaderSize)
	return &HETTable{
		Header:  h,
		names:   body[start : start+names],
		indexes: BitArray(body[start+names : start+names+indexBytes]),
	}, nil
}

func (t *HETTable) index(slot uint64) uint32 {
	stride := uint64(t.Header.IndexBits + t.Header.IndexBitsExtra)
	return uint32(t.indexes.Get(slot*stride, t.Header.IndexBits)) //nolint:gosec // width <= 32
}

// Candidates calls fn with the BET index of every slot whose fragment
// matches name, in lookup order, until fn returns true. It returns the index
// accepted by fn.
func (t *HETTable) Candidates(name string, fn func(betIndex uint32, nameHash uint64) bool) (uint32, bool) {
	total := uint64(t.Header.HashTableSize)
	if total == 0 {
		return 0, false
	}
	bits := t.Header.HashEntryBits
	h := NameHash(name, bits)
	fragment := byte(h >> (bits - 8))
	start := h % total

	for n := range total {
		slot := (start + n) % total
		switch t.names[slot] {
		case hetFree:
			return 0, false
		case fragment:
			idx := t.index(slot)
			if idx < t.Header.MaxFileCount && fn(idx, h) {
				return idx, true
			}
		}
	}
	return 0, false
}

// Find returns the BET index of name, checking each candidate against the
// name hash stored in bet.
func (t *HETTable) Find(name string, bet *BETTable) (uint32, bool) {
	mask := uint64(1)<<(t.Header.HashEntryBits-8) - 1
	return t.Candidates(name, func(idx uint32, h uint64) bool {
		stored, ok := bet.NameHash2(idx)
		return ok && stored == h&mask
	})
}

// HETEntry pairs an archive name with its block (BET) index.
type HETEntry struct {
	Name  string
	Index uint32
}

// BuildHET builds a HET table for entries. fileCount is the number of BET
// entries the indexes refer to.
func BuildHET(entries []HETEntry, fileCount uint32) *HETTable {
	const bits = DefaultNameHashBits
	total := uint32(len(entries))*4/3 + 1 //nolint:gosec // entry counts fit in uint32
	indexBits := max(bitsFor(uint64(fileCount)), 1)

	t := &HETTable{
		Header: HETHeader{
			MaxFileCount:   fileCount,
			HashTableSize:  total,
			HashEntryBits:  bits,
			TotalIndexBits: total * indexBits,
			IndexBits:      indexBits,
			BlockTableSize: fileCount,
		},
		names:   make([]byte, total),
		indexes: NewBitArray(uint64(total) * uint64(indexBits)),
	}
	for _, e := range entries {
		h := NameHash(e.Name, bits)
		slot := h % uint64(total)
		for t.names[slot] != hetFree {
			slot = (slot + 1) % uint64(total)
		}
		t.names[slot] = byte(h >> (bits - 8))
		t.indexes.Set(slot*uint64(indexBits), indexBits, uint64(e.Index))
	}
	t.Header.TableSize = uint32(extHeaderSize + hetHeaderSize + len(t.names) + len(t.indexes)) //nolint:gosec // small
	return t
}

// Encode serializes the table, compressing the body with mask when that
// helps, and encrypts it.
func (t *HETTable) Encode(mask compress.Mask) []byte {
	body := make([]byte, hetHeaderSize, hetHeaderSize+len(t.names)+len(t.indexes))
	h := t.Header
	for i, v := range []uint32{
		h.TableSize, h.MaxFileCount, h.HashTableSize, h.HashEntryBits,
		h.TotalIndexBits, h.IndexBitsExtra, h.IndexBits, h.BlockTableSize,
	} {
		binary.LittleEndian.PutUint32(body[i*4:], v)
	}
	body = append(body, t.names...)
	body = append(body, t.indexes...)
	return writeExtTable(hetSignature, body, HashTableKey, mask)
}
