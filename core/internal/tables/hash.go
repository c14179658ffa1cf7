// Package tables implements the archive index tables: the classic hash and
// block tables, the hi-block extension and the compact HET/BET tables.
package tables

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/sizing"
)

// On-disk block index markers of the classic hash table.
const (
	hashFree    = 0xFFFFFFFF
	hashDeleted = 0xFFFFFFFE
)

// HashEntrySize is the on-disk size of one hash table slot.
const HashEntrySize = 16

// Locale and platform values.
const (
	LocaleNeutral   uint16 = 0
	PlatformDefault uint16 = 0
)

// SlotState is the state of a hash table slot.
type SlotState uint8

// Slot states.
const (
	SlotEmpty SlotState = iota
	SlotTombstone
	SlotOccupied
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotTombstone:
		return "tombstone"
	case SlotOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// HashEntry is one slot of the classic hash table.
type HashEntry struct {
	NameA      uint32
	NameB      uint32
	Locale     uint16
	Platform   uint16
	BlockIndex uint32
}

// State reports whether the slot was never used, was deleted, or holds a file.
func (e HashEntry) State() SlotState {
	switch e.BlockIndex {
	case hashFree:
		return SlotEmpty
	case hashDeleted:
		return SlotTombstone
	default:
		return SlotOccupied
	}
}

func emptyEntry() HashEntry {
	return HashEntry{NameA: hashFree, NameB: hashFree, Locale: 0xFFFF, Platform: 0xFFFF, BlockIndex: hashFree}
}

// HashTable is the open-addressing name index of an archive.
type HashTable struct {
	entries []HashEntry
}

// NewHashTable returns an empty table with size slots. size must be a
// non-zero power of two.
func NewHashTable(size uint32) (*HashTable, error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: hash table size %d is not a power of two", ErrInvalidFormat, size)
	}
	t := &HashTable{entries: make([]HashEntry, size)}
	for i := range t.entries {
		t.entries[i] = emptyEntry()
	}
	return t, nil
}

// DecodeHashTable decrypts (and if needed decompresses) a stored hash table
// of count slots.
func DecodeHashTable(raw []byte, count uint32) (*HashTable, error) {
	if count == 0 || count&(count-1) != 0 {
		return nil, fmt.Errorf("%w: hash table size %d is not a power of two", ErrInvalidFormat, count)
	}
	want, ok := sizing.MulUint32(count, HashEntrySize)
	if !ok || count > maxEntries {
		return nil, fmt.Errorf("%w: hash table size %d exceeds %d", ErrInvalidFormat, count, maxEntries)
	}
	buf, err := unpackTable(raw, int(want), HashTableKey)
	if err != nil {
		return nil, err
	}
	t := &HashTable{entries: make([]HashEntry, count)}
	for i := range t.entries {
		p := buf[i*HashEntrySize:]
		t.entries[i] = HashEntry{
			NameA:      binary.LittleEndian.Uint32(p[0:]),
			NameB:      binary.LittleEndian.Uint32(p[4:]),
			Locale:     binary.LittleEndian.Uint16(p[8:]),
			Platform:   binary.LittleEndian.Uint16(p[10:]),
			BlockIndex: binary.LittleEndian.Uint32(p[12:]),
		}
	}
	return t, nil
}

// Encode serializes and encrypts the table.
func (t *HashTable) Encode() []byte {
	out := make([]byte, len(t.entries)*HashEntrySize)
	for i, e := range t.entries {
		p := out[i*HashEntrySize:]
		binary.LittleEndian.PutUint32(p[0:], e.NameA)
		binary.LittleEndian.PutUint32(p[4:], e.NameB)
		binary.LittleEndian.PutUint16(p[8:], e.Locale)
		binary.LittleEndian.PutUint16(p[10:], e.Platform)
		binary.LittleEndian.PutUint32(p[12:], e.BlockIndex)
	}
	crypto.Encrypt(out, HashTableKey)
	return out
}

// Len returns the number of slots.
func (t *HashTable) Len() int { return len(t.entries) }

// Entry returns slot i.
func (t *HashTable) Entry(i int) HashEntry { return t.entries[i] }

// Entries returns a copy of all slots in table order.
func (t *HashTable) Entries() []HashEntry {
	out := make([]HashEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Clone returns a deep copy of the table.
func (t *HashTable) Clone() *HashTable {
	return &HashTable{entries: t.Entries()}
}

type nameHashes struct {
	start, a, b uint32
}

func hashName(name string) nameHashes {
	return nameHashes{
		start: crypto.HashString(name, crypto.TableOffset),
		a:     crypto.HashString(name, crypto.NameA),
		b:     crypto.HashString(name, crypto.NameB),
	}
}

// walk calls fn for each slot in lookup order for h until fn returns false,
// an empty slot is reached, or the table has been cycled once. It returns
// the index of the empty slot that stopped the walk, or -1.
func (t *HashTable) walk(h nameHashes, fn func(i int) bool) int {
	mask := uint32(len(t.entries) - 1) //nolint:gosec // table sizes fit in uint32
	start := h.start & mask
	for n := range uint32(len(t.entries)) { //nolint:gosec // table sizes fit in uint32
		i := int((start + n) & mask)
		if t.entries[i].State() == SlotEmpty {
			return i
		}
		if !fn(i) {
			return -1
		}
	}
	return -1
}

func (t *HashTable) matches(i int, h nameHashes) bool {
	e := t.entries[i]
	return e.State() == SlotOccupied && e.NameA == h.a && e.NameB == h.b
}

// Find returns the slot holding name with the given locale and platform.
func (t *HashTable) Find(name string, locale, platform uint16) (int, bool) {
	h := hashName(name)
	found := -1
	t.walk(h, func(i int) bool {
		e := t.entries[i]
		if t.matches(i, h) && e.Locale == locale && e.Platform == platform {
			found = i
			return false
		}
		return true
	})
	return found, found >= 0
}

// Lookup returns the block index of name with the given locale and platform.
func (t *HashTable) Lookup(name string, locale, platform uint16) (uint32, bool) {
	i, ok := t.Find(name, locale, platform)
	if !ok {
		return 0, false
	}
	return t.entries[i].BlockIndex, true
}

// LookupAny returns the entry for name in the neutral locale if there is
// one, and otherwise the first live entry of any locale.
func (t *HashTable) LookupAny(name string) (HashEntry, bool) {
	h := hashName(name)
	var (
		first HashEntry
		found bool
	)
	t.walk(h, func(i int) bool {
		if !t.matches(i, h) {
			return true
		}
		e := t.entries[i]
		if e.Locale == LocaleNeutral {
			first, found = e, true
			return false
		}
		if !found {
			first, found = e, true
		}
		return true
	})
	return first, found
}

// FindAll returns every live slot holding name, across locales.
func (t *HashTable) FindAll(name string) []int {
	h := hashName(name)
	var out []int
	t.walk(h, func(i int) bool {
		if t.matches(i, h) {
			out = append(out, i)
		}
		return true
	})
	return out
}

// Insert stores name at the first free or deleted slot in its lookup
// sequence. A live entry with the same name, locale and platform is
// overwritten instead. It returns the slot used.
func (t *HashTable) Insert(name string, locale, platform uint16, blockIndex uint32) (int, error) {
	h := hashName(name)
	slot := -1
	free := -1
	empty := t.walk(h, func(i int) bool {
		e := t.entries[i]
		if t.matches(i, h) && e.Locale == locale && e.Platform == platform {
			slot = i
			return false
		}
		if free < 0 && e.State() == SlotTombstone {
			free = i
		}
		return true
	})
	switch {
	case slot >= 0:
	case free >= 0:
		slot = free
	case empty >= 0:
		slot = empty
	default:
		return -1, ErrHashTableFull
	}
	t.entries[slot] = HashEntry{
		NameA:      h.a,
		NameB:      h.b,
		Locale:     locale,
		Platform:   platform,
		BlockIndex: blockIndex,
	}
	return slot, nil
}

// Remove tombstones the slot holding name. It reports whether a slot was
// removed.
func (t *HashTable) Remove(name string, locale, platform uint16) bool {
	i, ok := t.Find(name, locale, platform)
	if !ok {
		return false
	}
	t.RemoveSlot(i)
	return true
}

// RemoveSlot tombstones slot i.
func (t *HashTable) RemoveSlot(i int) {
	t.entries[i] = HashEntry{
		NameA:      hashFree,
		NameB:      hashFree,
		Locale:     0xFFFF,
		Platform:   0xFFFF,
		BlockIndex: hashDeleted,
	}
}

// SetBlock points slot i at a different block.
func (t *HashTable) SetBlock(i int, blockIndex uint32) {
	t.entries[i].BlockIndex = blockIndex
}

// LiveCount returns the number of occupied slots.
func (t *HashTable) LiveCount() int {
	n := 0
	for _, e := range t.entries {
		if e.State() == SlotOccupied {
			n++
		}
	}
	return n
}
