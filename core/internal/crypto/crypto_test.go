package crypto

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringKnownValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind HashType
		want uint32
	}{
		{"(listfile)", TableOffset, 0x5F3DE859},
		{"(hash table)", FileKey, 0xC3AF3770},
		{"(block table)", FileKey, 0xEC83B3A3},
		{`path\to\file`, TableOffset, 0x534CC8EE},
		{"file.txt", TableOffset, 0x3EA98D7A},
		{`interface\glue\mainmenu.blp`, TableOffset, 0x2BBE7C09},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, HashString(tt.name, tt.kind))
		})
	}
}

func TestHashStringNormalizesNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, HashString(`path\to\file`, NameA), HashString("PATH/TO/FILE", NameA))
	assert.Equal(t, HashTableKey, HashString("(HASH TABLE)", FileKey))
	assert.NotEqual(t, HashString("file.txt", NameA), HashString("file.txt", NameB))
}

func TestCipherInvolution(t *testing.T) {
	t.Parallel()

	words := []uint32{0x12345678, 0x9ABCDEF0, 0x13579BDF, 0x2468ACE0, 0xFEDCBA98}
	orig := append([]uint32(nil), words...)

	EncryptWords(words, 0xC1EB1CEF)
	assert.NotEqual(t, orig, words)
	DecryptWords(words, 0xC1EB1CEF)
	assert.Equal(t, orig, words)
}

func TestCipherBytesMatchesWords(t *testing.T) {
	t.Parallel()

	words := []uint32{1, 2, 3, 0xFFFFFFFF}
	buf := make([]byte, 4*len(words)+3)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	copy(buf[16:], []byte{0xAA, 0xBB, 0xCC})

	Encrypt(buf, BlockTableKey)
	EncryptWords(words, BlockTableKey)
	for i, w := range words {
		assert.Equal(t, w, binary.LittleEndian.Uint32(buf[i*4:]))
	}
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, buf[16:], "trailing bytes stay plain")

	Decrypt(buf, BlockTableKey)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[8:]))
}

// Zero is a valid key that real names can hash to.
func TestZeroKeyEncrypts(t *testing.T) {
	t.Parallel()

	plain := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	buf := append([]byte(nil), plain...)
	Encrypt(buf, 0)
	assert.NotEqual(t, plain, buf)
	first := binary.LittleEndian.Uint32(plain) ^ (keySeed + cryptTable[0x400])
	assert.Equal(t, first, binary.LittleEndian.Uint32(buf))
	Decrypt(buf, 0)
	assert.Equal(t, plain, buf)

	words := []uint32{0xDEADBEEF, 0}
	EncryptWords(words, 0)
	assert.NotEqual(t, []uint32{0xDEADBEEF, 0}, words)
	DecryptWords(words, 0)
	assert.Equal(t, []uint32{0xDEADBEEF, 0}, words)
}

func TestFileKeyFor(t *testing.T) {
	t.Parallel()

	base := HashString("file.txt", FileKey)
	assert.Equal(t, base, FileKeyFor(`dir\sub\file.txt`, 0x400, 100, false))
	assert.Equal(t, base, FileKeyFor("dir/file.txt", 0x400, 100, false))
	assert.Equal(t, (base+0x400)^100, FileKeyFor(`dir\file.txt`, 0x400, 100, true))
}

func TestNameHash64Normalizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NameHash64("path/to/file"), NameHash64(`path\to\file`))
	assert.Equal(t, NameHash64("File.txt"), NameHash64("FILE.TXT"))
	assert.NotEqual(t, NameHash64("file1.txt"), NameHash64("file2.txt"))
}

func TestHashLittle2Empty(t *testing.T) {
	t.Parallel()

	// lookup3 defines the empty-input result as the seeded initial state.
	c, b := HashLittle2(nil, 0, 0)
	require.Equal(t, uint32(0xDEADBEEF), c)
	require.Equal(t, uint32(0xDEADBEEF), b)
}

func TestHashLittle2ReferenceVectors(t *testing.T) {
	t.Parallel()

	c, b := HashLittle2(nil, 0, 0xDEADBEEF)
	assert.Equal(t, uint32(0xBD5B7DDE), c)
	assert.Equal(t, uint32(0xDEADBEEF), b)

	phrase := []byte("Four score and seven years ago")
	c, _ = HashLittle2(phrase, 0, 0)
	assert.Equal(t, uint32(0x17770551), c)
	c, _ = HashLittle2(phrase, 1, 0)
	assert.Equal(t, uint32(0xCD628161), c)
}
