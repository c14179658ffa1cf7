package sector

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/tables"
)

const testSectorSize = 512

func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i/7) ^ byte(i%13)
	}
	return out
}

// place writes enc at a fixed position behind some padding and returns the
// image and block entry.
func place(t *testing.T, enc *Encoded, key uint32) ([]byte, tables.BlockEntry) {
	t.Helper()
	require.NoError(t, enc.Encrypt(key))
	const pos = 64
	img := make([]byte, pos, pos+len(enc.Data))
	img = append(img, enc.Data...)
	return img, enc.Block(pos)
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	key := crypto.FileKeyFor(`data\file.bin`, 64, 0, false)
	tests := []struct {
		name string
		size int
		opts WriteOptions
	}{
		{"plain", 2000, WriteOptions{}},
		{"plain encrypted", 2000, WriteOptions{Encrypt: true}},
		{"zlib", 5000, WriteOptions{Mask: compress.Zlib}},
		{"zlib crc encrypted", 5000, WriteOptions{Mask: compress.Zlib, SectorCRC: true, Encrypt: true}},
		{"bzip2 crc", 3000, WriteOptions{Mask: compress.BZip2, SectorCRC: true}},
		{"implode", 3000, WriteOptions{Implode: true}},
		{"implode encrypted", 3000, WriteOptions{Implode: true, Encrypt: true}},
		{"single unit", 3000, WriteOptions{Mask: compress.Zlib, SingleUnit: true}},
		{"single unit encrypted", 3000, WriteOptions{Mask: compress.Zlib, SingleUnit: true, Encrypt: true}},
		{"n sectors plus one byte", 4*testSectorSize + 1, WriteOptions{Mask: compress.Zlib, SectorCRC: true}},
		{"exact sectors", 4 * testSectorSize, WriteOptions{Mask: compress.Zlib}},
		{"one byte", 1, WriteOptions{Mask: compress.Zlib, Encrypt: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := patterned(tt.size)
			opts := tt.opts
			opts.SectorSize = testSectorSize
			enc, err := Write(data, opts)
			require.NoError(t, err)
			assert.Equal(t, uint32(tt.size), enc.FileSize) //nolint:gosec // small

			img, block := place(t, enc, key)
			got, rep, err := Read(bytes.NewReader(img), 0, block, key, Options{SectorSize: testSectorSize, Strict: true})
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.True(t, rep.OK())
			assert.Equal(t, opts.SectorCRC && !opts.SingleUnit && (opts.Mask != 0 || opts.Implode), rep.Checked)
		})
	}
}

func TestWriteEmptyFile(t *testing.T) {
	t.Parallel()

	enc, err := Write(nil, WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib})
	require.NoError(t, err)
	assert.Empty(t, enc.Data)
	assert.Equal(t, tables.FlagExists, enc.Flags)

	got, _, err := Read(bytes.NewReader(nil), 0, enc.Block(0), 0, Options{SectorSize: testSectorSize})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteSectorBoundary(t *testing.T) {
	t.Parallel()

	enc, err := Write(patterned(4*testSectorSize+1), WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib})
	require.NoError(t, err)

	// Five sectors need six offsets, the first pointing past the table.
	first := binary.LittleEndian.Uint32(enc.Data)
	assert.Equal(t, uint32(6*4), first)
	last := binary.LittleEndian.Uint32(enc.Data[5*4:])
	assert.Equal(t, enc.CompressedSize(), last)
}

func TestReadChecksumMismatch(t *testing.T) {
	t.Parallel()

	data := patterned(3 * testSectorSize)
	enc, err := Write(data, WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib, SectorCRC: true})
	require.NoError(t, err)

	// Corrupt the stored checksum of sector 1 so decoding still succeeds.
	offsets := make([]uint32, 5)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(enc.Data[i*4:])
	}
	enc.Data[offsets[3]+4] ^= 0xFF

	img, block := place(t, enc, 0)

	got, rep, err := Read(bytes.NewReader(img), 0, block, 0, Options{SectorSize: testSectorSize})
	require.NoError(t, err)
	assert.Equal(t, data, got)
	require.Len(t, rep.CRCFailures, 1)
	require.ErrorIs(t, rep.Err(), ErrCorruptSector)
	var cerr *ChecksumError
	require.ErrorAs(t, rep.CRCFailures[0], &cerr)
	assert.Equal(t, 1, cerr.Sector)

	_, _, err = Read(bytes.NewReader(img), 0, block, 0, Options{SectorSize: testSectorSize, Strict: true})
	require.ErrorIs(t, err, ErrCorruptSector)
}

func TestReadWrongKey(t *testing.T) {
	t.Parallel()

	data := patterned(3000)
	enc, err := Write(data, WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib, Encrypt: true})
	require.NoError(t, err)
	img, block := place(t, enc, 0xC0FFEE)

	_, _, err = Read(bytes.NewReader(img), 0, block, 0xBADBAD, Options{SectorSize: testSectorSize})
	require.ErrorIs(t, err, ErrDecryption)
}

func TestReadCorruptSectorData(t *testing.T) {
	t.Parallel()

	data := patterned(3000)
	enc, err := Write(data, WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib})
	require.NoError(t, err)
	second := binary.LittleEndian.Uint32(enc.Data[4:])
	enc.Data[second+3] ^= 0x5A
	img, block := place(t, enc, 0)

	_, _, err = Read(bytes.NewReader(img), 0, block, 0, Options{SectorSize: testSectorSize})
	require.ErrorIs(t, err, compress.ErrDecompression)
	var de *compress.DecompressionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Sector)
}

func TestReadTruncatedSource(t *testing.T) {
	t.Parallel()

	enc, err := Write(patterned(3000), WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib})
	require.NoError(t, err)
	img, block := place(t, enc, 0)

	_, _, err = Read(bytes.NewReader(img[:len(img)-10]), 0, block, 0, Options{SectorSize: testSectorSize})
	require.ErrorIs(t, err, ErrIO)
}

func TestRekey(t *testing.T) {
	t.Parallel()

	for _, opts := range []WriteOptions{
		{Mask: compress.Zlib, SectorCRC: true, Encrypt: true},
		{Encrypt: true},
		{Mask: compress.Zlib, SingleUnit: true, Encrypt: true},
	} {
		opts.SectorSize = testSectorSize
		data := patterned(2500)
		enc, err := Write(data, opts)
		require.NoError(t, err)

		oldKey := crypto.FileKeyFor(`old\name.txt`, 0, 0, false)
		newKey := crypto.FileKeyFor(`new\other.txt`, 0, 0, false)
		require.NoError(t, enc.Encrypt(oldKey))
		require.NoError(t, Rekey(enc.Data, enc.Block(0), testSectorSize, oldKey, newKey))

		got, _, err := Read(bytes.NewReader(enc.Data), 0, enc.Block(0), newKey, Options{SectorSize: testSectorSize, Strict: true})
		require.NoError(t, err)
		assert.Equal(t, data, got)

		require.NoError(t, Decrypt(enc.Data, enc.Block(0), testSectorSize, newKey))
		plain, err := Write(data, WriteOptions{SectorSize: testSectorSize, Mask: opts.Mask, SectorCRC: opts.SectorCRC, SingleUnit: opts.SingleUnit})
		require.NoError(t, err)
		assert.Equal(t, plain.Data, enc.Data, "encryption is an involution")
	}
}

func TestIncompressibleSectorsStoredRaw(t *testing.T) {
	t.Parallel()

	data := make([]byte, 1500)
	state := uint32(1)
	for i := range data {
		state = state*1103515245 + 12345
		data[i] = byte(state >> 16)
	}
	enc, err := Write(data, WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib})
	require.NoError(t, err)
	assert.Equal(t, 4*4+len(data), len(enc.Data), "raw sectors plus the offset table")

	got, _, err := Read(bytes.NewReader(enc.Data), 0, enc.Block(0), 0, Options{SectorSize: testSectorSize})
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestZeroFileKeyEncrypts(t *testing.T) {
	t.Parallel()

	data := patterned(3000)
	for _, opts := range []WriteOptions{
		{Mask: compress.Zlib, SectorCRC: true, Encrypt: true},
		{Encrypt: true},
		{Mask: compress.Zlib, SingleUnit: true, Encrypt: true},
	} {
		opts.SectorSize = testSectorSize
		enc, err := Write(data, opts)
		require.NoError(t, err)
		before := bytes.Clone(enc.Data)

		img, block := place(t, enc, 0)
		assert.NotEqual(t, before, enc.Data, "a zero key still encrypts")

		got, _, err := Read(bytes.NewReader(img), 0, block, 0, Options{SectorSize: testSectorSize, Strict: true})
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestReadRejectsOutOfRangeBlocks(t *testing.T) {
	t.Parallel()

	enc, err := Write(patterned(3000), WriteOptions{SectorSize: testSectorSize, Mask: compress.Zlib})
	require.NoError(t, err)
	img, block := place(t, enc, 0)
	limit := int64(len(img))

	_, _, err = Read(bytes.NewReader(img), 0, block, 0, Options{SectorSize: testSectorSize, Limit: limit})
	require.NoError(t, err, "a payload ending at the limit is fine")

	tests := []struct {
		name  string
		block tables.BlockEntry
	}{
		{"stored size past the end", tables.BlockEntry{FilePos: block.FilePos, CompressedSize: 0xFFFFFFF0, FileSize: block.FileSize, Flags: block.Flags}},
		{"position past the end", tables.BlockEntry{FilePos: 1 << 40, CompressedSize: block.CompressedSize, FileSize: block.FileSize, Flags: block.Flags}},
		{"position wraps", tables.BlockEntry{FilePos: ^uint64(0) - 4, CompressedSize: 16, FileSize: block.FileSize, Flags: block.Flags}},
		{"file size over the cap", tables.BlockEntry{FilePos: block.FilePos, CompressedSize: block.CompressedSize, FileSize: MaxFileSize + 1, Flags: block.Flags}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Read(bytes.NewReader(img), 0, tt.block, 0, Options{SectorSize: testSectorSize, Limit: limit})
			require.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}
