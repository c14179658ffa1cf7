package compress

import (
	"errors"
	"fmt"
	"sync"
)

// PKWare Data Compression Library ("implode"/"explode") stream format.

const (
	dclBinary = 0
	dclASCII  = 1

	dclMaxBits   = 13
	dclEndLength = 519
	dclMaxLength = 518
	dclMinMatch  = 3
)

// Code length tables in the compact run-length form of the format: each byte
// holds a code length in its low nibble and a repeat count minus one in its
// high nibble.
var (
	dclLiteralLengths = []byte{
		11, 124, 8, 7, 28, 7, 188, 13, 76, 4, 10, 8, 12, 10, 12, 10, 8, 23, 8,
		9, 7, 6, 7, 8, 7, 6, 55, 8, 23, 24, 12, 11, 7, 9, 11, 12, 6, 7, 22, 5,
		7, 24, 6, 11, 9, 6, 7, 22, 7, 11, 38, 7, 9, 8, 25, 11, 8, 11, 9, 12,
		8, 12, 5, 38, 5, 38, 5, 11, 7, 5, 6, 21, 6, 10, 53, 8, 7, 24, 10, 27,
		44, 253, 253, 253, 252, 252, 252, 13, 12, 45, 12, 45, 12, 61, 12, 45,
		44, 173,
	}
	dclLengthLengths   = []byte{2, 35, 36, 53, 38, 23}
	dclDistanceLengths = []byte{2, 20, 53, 230, 247, 151, 248}

	dclLengthBase  = [16]int{3, 2, 4, 5, 6, 7, 8, 9, 10, 12, 16, 24, 40, 72, 136, 264}
	dclLengthExtra = [16]uint{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
)

// dclCode is a canonical prefix code. The decoder side follows the counting
// approach of Mark Adler's blast; the encoder side holds per-symbol codes.
type dclCode struct {
	count  [dclMaxBits + 1]int
	symbol []int
	codes  []uint32
	lens   []uint
}

func newDCLCode(rep []byte) *dclCode {
	var lengths []uint
	for _, b := range rep {
		for range int(b>>4) + 1 {
			lengths = append(lengths, uint(b&0x0F))
		}
	}

	c := &dclCode{symbol: make([]int, len(lengths)), codes: make([]uint32, len(lengths)), lens: lengths}
	for _, l := range lengths {
		c.count[l]++
	}
	var offs [dclMaxBits + 2]int
	for l := 1; l <= dclMaxBits; l++ {
		offs[l+1] = offs[l] + c.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			c.symbol[offs[l]] = sym
			offs[l]++
		}
	}

	// Assign canonical codes in (length, symbol) order.
	code := uint32(0)
	idx := 0
	for l := 1; l <= dclMaxBits; l++ {
		for range c.count[l] {
			c.codes[c.symbol[idx]] = code
			code++
			idx++
		}
		code <<= 1
	}
	return c
}

// decode reads one symbol. Codes are stored bit-inverted, most significant
// bit first.
func (c *dclCode) decode(r *bitReader) (int, error) {
	code, first, index := 0, 0, 0
	for l := 1; l <= dclMaxBits; l++ {
		b, err := r.bit()
		if err != nil {
			return 0, err
		}
		code |= int(b ^ 1)
		count := c.count[l]
		if code < first+count {
			return c.symbol[index+code-first], nil
		}
		index += count
		first = (first + count) << 1
		code <<= 1
	}
	return 0, errors.New("pkware: invalid code")
}

func (c *dclCode) encode(w *bitWriter, sym int) {
	code, n := c.codes[sym], c.lens[sym]
	for k := int(n) - 1; k >= 0; k-- {
		w.putBit(((code >> uint(k)) & 1) ^ 1)
	}
}

type dclTables struct {
	literal, length, distance *dclCode
}

var dclTablesOnce = sync.OnceValue(func() *dclTables {
	return &dclTables{
		literal:  newDCLCode(dclLiteralLengths),
		length:   newDCLCode(dclLengthLengths),
		distance: newDCLCode(dclDistanceLengths),
	}
})

// Explode decompresses a PKWare DCL stream.
func Explode(data []byte, outSize int) ([]byte, error) {
	tables := dclTablesOnce()
	r := newBitReader(data)

	mode, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	if mode > dclASCII {
		return nil, fmt.Errorf("pkware: invalid literal mode %d", mode)
	}
	dictBits, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	if dictBits < 4 || dictBits > 6 {
		return nil, fmt.Errorf("pkware: invalid dictionary size %d", dictBits)
	}

	out := make([]byte, 0, outSize)
	for len(out) < outSize {
		flag, err := r.bit()
		if err != nil {
			return nil, err
		}
		if flag == 0 {
			var lit uint32
			if mode == dclASCII {
				sym, err := tables.literal.decode(r)
				if err != nil {
					return nil, err
				}
				lit = uint32(sym) //nolint:gosec // symbol < 256
			} else if lit, err = r.bits(8); err != nil {
				return nil, err
			}
			out = append(out, byte(lit))
			continue
		}

		sym, err := tables.length.decode(r)
		if err != nil {
			return nil, err
		}
		extra, err := r.bits(dclLengthExtra[sym])
		if err != nil {
			return nil, err
		}
		length := dclLengthBase[sym] + int(extra)
		if length == dclEndLength {
			break
		}

		shift := uint(dictBits)
		if length == 2 {
			shift = 2
		}
		hi, err := tables.distance.decode(r)
		if err != nil {
			return nil, err
		}
		lo, err := r.bits(shift)
		if err != nil {
			return nil, err
		}
		dist := hi<<shift + int(lo) + 1
		if dist > len(out) {
			return nil, errors.New("pkware: distance too far back")
		}
		for range length {
			out = append(out, out[len(out)-dist])
		}
	}
	if len(out) > outSize {
		out = out[:outSize]
	}
	return out, nil
}

// dictBitsFor picks the dictionary size the way the reference archiver does:
// small inputs get a small window.
func dictBitsFor(n int) uint {
	switch {
	case n < 0x600:
		return 4
	case n < 0xC00:
		return 5
	default:
		return 6
	}
}

const (
	dclHashBits = 12
	dclHashSize = 1 << dclHashBits
	dclMaxChain = 64
	dclNoMatch  = -1
)

// Implode compresses data into a binary-mode PKWare DCL stream using greedy
// hash-chain matching.
func Implode(data []byte) ([]byte, error) {
	tables := dclTablesOnce()
	dictBits := dictBitsFor(len(data))
	window := 64 << dictBits

	w := &bitWriter{out: make([]byte, 0, len(data)/2+8)}
	w.putBits(dclBinary, 8)
	w.putBits(uint32(dictBits), 8)

	head := make([]int, dclHashSize)
	for i := range head {
		head[i] = dclNoMatch
	}
	prev := make([]int, len(data))
	hash := func(i int) int {
		return int((uint32(data[i])<<8^uint32(data[i+1])<<4^uint32(data[i+2]))*2654435761>>(32-dclHashBits)) & (dclHashSize - 1)
	}
	insert := func(i int) {
		if i+2 < len(data) {
			h := hash(i)
			prev[i] = head[h]
			head[h] = i
		}
	}

	for i := 0; i < len(data); {
		bestLen, bestDist := 0, 0
		if i+dclMinMatch <= len(data) {
			maxLen := min(dclMaxLength, len(data)-i)
			cand := head[hash(i)]
			for chain := 0; cand != dclNoMatch && chain < dclMaxChain; chain++ {
				dist := i - cand
				if dist > window {
					break
				}
				n := 0
				for n < maxLen && data[cand+n] == data[i+n] {
					n++
				}
				if n > bestLen {
					bestLen, bestDist = n, dist
					if n == maxLen {
						break
					}
				}
				cand = prev[cand]
			}
		}

		if bestLen < dclMinMatch {
			w.putBit(0)
			w.putBits(uint32(data[i]), 8)
			insert(i)
			i++
			continue
		}

		w.putBit(1)
		writeDCLLength(w, tables, bestLen)
		d := bestDist - 1
		tables.distance.encode(w, d>>dictBits)
		w.putBits(uint32(d)&(1<<dictBits-1), dictBits) //nolint:gosec // d is bounded by the window
		for k := range bestLen {
			insert(i + k)
		}
		i += bestLen
	}

	w.putBit(1)
	writeDCLLength(w, tables, dclEndLength)
	return w.bytes(), nil
}

func writeDCLLength(w *bitWriter, tables *dclTables, length int) {
	for sym := len(dclLengthBase) - 1; sym >= 0; sym-- {
		base := dclLengthBase[sym]
		if length >= base && length < base+1<<dclLengthExtra[sym] {
			tables.length.encode(w, sym)
			w.putBits(uint32(length-base), dclLengthExtra[sym]) //nolint:gosec // bounded by extra bits
			return
		}
	}
}
