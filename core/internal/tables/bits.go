package tables

import "math/bits"

// BitArray is a little-endian bit-packed array of fixed-width fields.
type BitArray []byte

// NewBitArray allocates an array able to hold n bits.
func NewBitArray(n uint64) BitArray {
	return make(BitArray, (n+7)/8)
}

// Len returns the capacity of the array in bits.
func (b BitArray) Len() uint64 { return uint64(len(b)) * 8 }

// Get reads width bits starting at bit position pos. Bits past the end of
// the array read as zero. width must not exceed 64.
func (b BitArray) Get(pos uint64, width uint32) uint64 {
	var v uint64
	for i := range uint64(width) {
		p := pos + i
		if p/8 >= uint64(len(b)) {
			break
		}
		if b[p/8]&(1<<(p%8)) != 0 {
			v |= 1 << i
		}
	}
	return v
}

// Set writes the low width bits of v at bit position pos. Bits past the end
// of the array are dropped.
func (b BitArray) Set(pos uint64, width uint32, v uint64) {
	for i := range uint64(width) {
		p := pos + i
		if p/8 >= uint64(len(b)) {
			return
		}
		if v&(1<<i) != 0 {
			b[p/8] |= 1 << (p % 8)
		} else {
			b[p/8] &^= 1 << (p % 8)
		}
	}
}

// bitsFor returns the number of bits needed to represent v.
func bitsFor(v uint64) uint32 {
	return uint32(bits.Len64(v)) //nolint:gosec // at most 64
}
