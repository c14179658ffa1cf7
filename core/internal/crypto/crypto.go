// Package crypto implements the archive stream cipher and the name hashes
// that drive table lookup and key derivation.
package crypto

import (
	"encoding/binary"
	"strings"
)

// HashType selects which 256-entry slice of the crypt table a hash uses.
type HashType uint32

// Hash types understood by HashString.
const (
	TableOffset HashType = 0
	NameA       HashType = 1
	NameB       HashType = 2
	FileKey     HashType = 3
)

const (
	tableSize = 0x500
	tableSeed = 0x00100001
	keySeed   = 0xEEEEEEEE
)

var cryptTable = buildTable()

func buildTable() [tableSize]uint32 {
	var t [tableSize]uint32
	seed := uint32(tableSeed)
	for i := range 0x100 {
		for j := range 5 {
			seed = (seed*125 + 3) % 0x2AAAAB
			hi := (seed & 0xFFFF) << 16
			seed = (seed*125 + 3) % 0x2AAAAB
			lo := seed & 0xFFFF
			t[i+j*0x100] = hi | lo
		}
	}
	return t
}

// Table returns the value at index i of the crypt table.
func Table(i int) uint32 {
	return cryptTable[i]
}

// HashString hashes name the way the archive tables expect: forward slashes
// are treated as backslashes and ASCII letters are case-folded to upper case.
func HashString(name string, kind HashType) uint32 {
	seed1 := uint32(0x7FED7FED)
	seed2 := uint32(0xEEEEEEEE)
	base := uint32(kind) << 8
	for i := 0; i < len(name); i++ {
		ch := uint32(normalizeUpper(name[i]))
		seed1 = cryptTable[base+ch] ^ (seed1 + seed2)
		seed2 = ch + seed1 + seed2 + (seed2 << 5) + 3
	}
	return seed1
}

func normalizeUpper(c byte) byte {
	switch {
	case c == '/':
		return '\\'
	case c >= 'a' && c <= 'z':
		return c - 'a' + 'A'
	default:
		return c
	}
}

// EncryptWords encrypts data in place.
func EncryptWords(data []uint32, key uint32) {
	seed := uint32(keySeed)
	for i, plain := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		data[i] = plain ^ (key + seed)
		key = ((^key << 21) + 0x11111111) | (key >> 11)
		seed = plain + seed + (seed << 5) + 3
	}
}

// DecryptWords reverses EncryptWords.
func DecryptWords(data []uint32, key uint32) {
	seed := uint32(keySeed)
	for i, enc := range data {
		seed += cryptTable[0x400+(key&0xFF)]
		plain := enc ^ (key + seed)
		data[i] = plain
		key = ((^key << 21) + 0x11111111) | (key >> 11)
		seed = plain + seed + (seed << 5) + 3
	}
}

// Encrypt encrypts the little-endian words of buf in place. Trailing bytes
// that do not fill a whole word are left as they are.
func Encrypt(buf []byte, key uint32) {
	cipherBytes(buf, key, true)
}

// Decrypt reverses Encrypt.
func Decrypt(buf []byte, key uint32) {
	cipherBytes(buf, key, false)
}

func cipherBytes(buf []byte, key uint32, encrypt bool) {
	seed := uint32(keySeed)
	for off := 0; off+4 <= len(buf); off += 4 {
		seed += cryptTable[0x400+(key&0xFF)]
		in := binary.LittleEndian.Uint32(buf[off:])
		out := in ^ (key + seed)
		binary.LittleEndian.PutUint32(buf[off:], out)
		plain := out
		if encrypt {
			plain = in
		}
		key = ((^key << 21) + 0x11111111) | (key >> 11)
		seed = plain + seed + (seed << 5) + 3
	}
}

// Keys of the two classic tables.
var (
	HashTableKey  = HashString("(hash table)", FileKey)
	BlockTableKey = HashString("(block table)", FileKey)
)

// BaseName returns the part of an archive name after its last path separator.
func BaseName(name string) string {
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// FileKeyFor derives the encryption key of a stored file. When fixKey is set
// the key is adjusted by the file's position and uncompressed size.
func FileKeyFor(name string, filePos uint64, fileSize uint32, fixKey bool) uint32 {
	key := HashString(BaseName(name), FileKey)
	if fixKey {
		key = (key + uint32(filePos)) ^ fileSize //nolint:gosec // low 32 bits of the position by definition
	}
	return key
}
