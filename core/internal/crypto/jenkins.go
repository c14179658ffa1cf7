package crypto

import "encoding/binary"

// HashLittle2 is Bob Jenkins' lookup3 hashlittle2. pc and pb seed the hash and
// the two returned words are the primary (c) and secondary (b) results.
func HashLittle2(key []byte, pc, pb uint32) (c, b uint32) {
	a := 0xDEADBEEF + uint32(len(key)) + pc //nolint:gosec // length wraps as in the reference hash
	b = a
	c = a + pb

	for len(key) > 12 {
		a += binary.LittleEndian.Uint32(key[0:])
		b += binary.LittleEndian.Uint32(key[4:])
		c += binary.LittleEndian.Uint32(key[8:])
		a, b, c = mix(a, b, c)
		key = key[12:]
	}
	if len(key) == 0 {
		return c, b
	}

	var tail [12]byte
	copy(tail[:], key)
	a += binary.LittleEndian.Uint32(tail[0:])
	b += binary.LittleEndian.Uint32(tail[4:])
	c += binary.LittleEndian.Uint32(tail[8:])
	_, b, c = final(a, b, c)
	return c, b
}

func rot(x uint32, k uint) uint32 {
	return x<<k | x>>(32-k)
}

func mix(a, b, c uint32) (uint32, uint32, uint32) {
	a -= c
	a ^= rot(c, 4)
	c += b
	b -= a
	b ^= rot(a, 6)
	a += c
	c -= b
	c ^= rot(b, 8)
	b += a
	a -= c
	a ^= rot(c, 16)
	c += b
	b -= a
	b ^= rot(a, 19)
	a += c
	c -= b
	c ^= rot(b, 4)
	b += a
	return a, b, c
}

func final(a, b, c uint32) (uint32, uint32, uint32) {
	c ^= b
	c -= rot(b, 14)
	a ^= c
	a -= rot(c, 11)
	b ^= a
	b -= rot(a, 25)
	c ^= b
	c -= rot(b, 16)
	a ^= c
	a -= rot(c, 4)
	b ^= a
	b -= rot(a, 14)
	c ^= b
	c -= rot(b, 24)
	return a, b, c
}

// NameHash64 computes the 64-bit name hash used by HET tables. The name is
// lower-cased and slashes are normalised to backslashes before hashing.
func NameHash64(name string) uint64 {
	buf := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '/':
			ch = '\\'
		case ch >= 'A' && ch <= 'Z':
			ch += 'a' - 'A'
		}
		buf[i] = ch
	}
	secondary, primary := HashLittle2(buf, 2, 1)
	return uint64(primary)<<32 | uint64(secondary)
}
