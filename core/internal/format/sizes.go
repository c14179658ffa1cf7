package format

import "slices"

// Entry sizes of the classic tables.
const (
	hashEntrySize    = 16
	blockEntrySize   = 16
	hiBlockEntrySize = 2
)

// TableSizes holds the stored byte size of each index table. A zero size
// means the table is absent.
type TableSizes struct {
	Hash    uint64
	Block   uint64
	HiBlock uint64
	HET     uint64
	BET     uint64
}

// TableSizes returns the stored size of every table. v4 headers record
// them; older headers imply the classic sizes from the entry counts, and v3
// HET/BET sizes are derived from the position of the next table or the
// end of the archive. available is the number of bytes after the archive
// start.
func (h *Header) TableSizes(available int64) TableSizes {
	if h.Version >= V4 {
		return TableSizes{
			Hash:    h.HashTableSize64,
			Block:   h.BlockTableSize64,
			HiBlock: h.HiBlockTableSize64,
			HET:     h.HETTableSize64,
			BET:     h.BETTableSize64,
		}
	}

	s := TableSizes{
		Hash:  uint64(h.HashTableCount) * hashEntrySize,
		Block: uint64(h.BlockTableCount) * blockEntrySize,
	}
	if h.HiBlockTablePos != 0 {
		s.HiBlock = uint64(h.BlockTableCount) * hiBlockEntrySize
	}
	if h.Version < V3 {
		return s
	}

	end := uint64(available) //nolint:gosec // non-negative source size
	if size := h.ArchiveSize(); size != 0 && size < end {
		end = size
	}
	var starts []uint64
	for _, p := range []uint64{h.HashTablePos, h.BlockTablePos, h.HiBlockTablePos, h.HETTablePos, h.BETTablePos} {
		if p != 0 {
			starts = append(starts, p)
		}
	}
	slices.Sort(starts)
	next := func(pos uint64) uint64 {
		for _, p := range starts {
			if p > pos {
				return min(p, end)
			}
		}
		return end
	}
	span := func(pos uint64) uint64 {
		if n := next(pos); n > pos {
			return n - pos
		}
		return 0
	}

	if h.HETTablePos != 0 {
		s.HET = span(h.HETTablePos)
	}
	if h.BETTablePos != 0 {
		s.BET = span(h.BETTablePos)
	}
	if h.HashTableCount != 0 {
		s.Hash = min(s.Hash, span(h.HashTablePos))
	}
	if h.BlockTableCount != 0 {
		s.Block = min(s.Block, span(h.BlockTablePos))
	}
	return s
}
