package mpq

import (
	"fmt"

	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// Listfile returns the names recorded in (listfile), in file order, without
// checking that they resolve. It returns ErrNotFound when the archive has
// no listfile.
func (a *Archive) Listfile() ([]string, error) {
	data, err := a.ReadFile(special.ListfileName)
	if err != nil {
		return nil, fmt.Errorf("listfile: %w", err)
	}
	return special.ParseListfile(data), nil
}

// List returns the names in (listfile) that resolve to stored files.
// Delete markers are left out. It returns ErrNotFound when the archive has
// no listfile.
func (a *Archive) List() ([]string, error) {
	names, err := a.Listfile()
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		loc, err := a.resolve(name, tables.LocaleNeutral, true)
		if err != nil || loc.block.Has(tables.FlagDeleteMarker) {
			continue
		}
		out = append(out, loc.name)
	}
	return out, nil
}

// Entry is one live row of the index tables.
type Entry struct {
	// HashIndex is the hash table slot, or -1 for entries that only exist
	// in the BET table.
	HashIndex  int
	NameA      uint32
	NameB      uint32
	Locale     uint16
	Platform   uint16
	BlockIndex uint32
	Block      BlockEntry
}

// Entries lists the occupied hash slots with their block entries, in slot
// order. Archives without a classic hash table list their BET entries.
func (a *Archive) Entries() []Entry {
	if a.hash == nil {
		out := make([]Entry, 0, a.blocks.Len())
		for i, b := range a.blocks.Entries() {
			if b.Exists() {
				out = append(out, Entry{HashIndex: -1, BlockIndex: uint32(i), Block: b}) //nolint:gosec // block counts fit in uint32
			}
		}
		return out
	}

	var out []Entry
	for i, e := range a.hash.Entries() {
		if e.State() != tables.SlotOccupied {
			continue
		}
		b, _ := a.blocks.Resolve(e.BlockIndex)
		out = append(out, Entry{
			HashIndex:  i,
			NameA:      e.NameA,
			NameB:      e.NameB,
			Locale:     e.Locale,
			Platform:   e.Platform,
			BlockIndex: e.BlockIndex,
			Block:      b,
		})
	}
	return out
}

// Blocks returns a copy of the block table.
func (a *Archive) Blocks() []BlockEntry {
	return a.blocks.Entries()
}
