package format

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHeader(v Version) *Header {
	h := &Header{
		Version:         v,
		SectorSizeShift: 3,
		HashTablePos:    0x400,
		BlockTablePos:   0x500,
		HashTableCount:  16,
		BlockTableCount: 4,
		ArchiveSize32:   0x540,
	}
	if v >= V2 {
		h.HiBlockTablePos = 0
	}
	if v >= V3 {
		h.ArchiveSize64 = 0x540
	}
	if v >= V4 {
		h.HashTableSize64 = 16 * 16
		h.BlockTableSize64 = 4 * 16
		h.RawChunkSize = 0x4000
		h.MD5HashTable[0] = 0xAA
	}
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []Version{V1, V2, V3, V4} {
		t.Run(v.String(), func(t *testing.T) {
			t.Parallel()

			h := sampleHeader(v)
			raw, err := h.MarshalBinary()
			require.NoError(t, err)
			require.Len(t, raw, int(v.HeaderSize()))

			got, err := ParseHeader(raw)
			require.NoError(t, err)
			h.HeaderSize = v.HeaderSize()
			assert.Equal(t, h, got)
			assert.Equal(t, uint32(4096), got.SectorSize())

			again, err := got.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, raw, again, "encoding is byte-exact")
		})
	}
}

func TestParseHeaderErrors(t *testing.T) {
	t.Parallel()

	raw, err := sampleHeader(V4).MarshalBinary()
	require.NoError(t, err)

	_, err = ParseHeader(raw[:0x10])
	require.ErrorIs(t, err, ErrInvalidFormat)

	_, err = ParseHeader(raw[:0x40])
	require.ErrorIs(t, err, ErrInvalidFormat, "v4 header cut short")

	bad := bytes.Clone(raw)
	bad[0] = 'X'
	_, err = ParseHeader(bad)
	require.ErrorIs(t, err, ErrInvalidFormat)

	future := bytes.Clone(raw)
	binary.LittleEndian.PutUint16(future[0x0C:], 4)
	_, err = ParseHeader(future)
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	shift := bytes.Clone(raw)
	binary.LittleEndian.PutUint16(shift[0x0E:], 40)
	_, err = ParseHeader(shift)
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestMarshalRejectsHighPositionsOnV1(t *testing.T) {
	t.Parallel()

	h := sampleHeader(V1)
	h.HashTablePos = 1 << 33
	_, err := h.MarshalBinary()
	require.ErrorIs(t, err, ErrInvalidFormat)

	h = sampleHeader(V2)
	h.HashTablePos = 1<<33 | 0x10
	raw, err := h.MarshalBinary()
	require.NoError(t, err)
	got, err := ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<33|0x10), got.HashTablePos)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	h := sampleHeader(V1)
	require.NoError(t, h.Validate(0x540))

	err := h.Validate(0x520)
	require.ErrorIs(t, err, ErrInvalidFormat, "block table past the end")

	h.HashTableCount = 12
	require.ErrorIs(t, h.Validate(0x1000), ErrInvalidFormat)

	h.HashTableCount = 0
	require.ErrorIs(t, h.Validate(0x1000), ErrInvalidFormat)
}

func TestValidateCapsTableCounts(t *testing.T) {
	t.Parallel()

	// v3 sizes are clamped to the space before the next table, so only the
	// count limit stops these headers.
	h := sampleHeader(V3)
	h.HashTableCount = 1 << 31
	err := h.Validate(0x540)
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "hash table count")

	h = sampleHeader(V3)
	h.BlockTableCount = MaxTableEntries + 1
	err = h.Validate(0x540)
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "block table count")

	h = sampleHeader(V3)
	h.HashTableCount = MaxTableEntries
	h.BlockTableCount = MaxTableEntries
	require.NoError(t, h.Validate(0x540))
}

func TestTableSizesV3Derived(t *testing.T) {
	t.Parallel()

	h := &Header{
		Version:         V3,
		HashTablePos:    0x100,
		BlockTablePos:   0x200,
		HashTableCount:  16,
		BlockTableCount: 2,
		HETTablePos:     0x220,
		BETTablePos:     0x280,
		ArchiveSize64:   0x300,
	}
	s := h.TableSizes(0x1000)
	assert.Equal(t, uint64(0x100), s.Hash)
	assert.Equal(t, uint64(0x20), s.Block)
	assert.Equal(t, uint64(0x60), s.HET)
	assert.Equal(t, uint64(0x80), s.BET, "last table runs to the archive end")
}

func buildImage(t *testing.T, prefix int, withUserData bool) []byte {
	t.Helper()

	h := sampleHeader(V1)
	raw, err := h.MarshalBinary()
	require.NoError(t, err)

	img := make([]byte, prefix)
	if withUserData {
		ud := &UserData{UserDataSize: 0x20, HeaderOffset: uint32(prefix), UserDataHeaderSize: 4, Data: []byte("WC3!")} //nolint:gosec // small
		udRaw, err := ud.MarshalBinary()
		require.NoError(t, err)
		copy(img, udRaw)
	}
	img = append(img, raw...)
	return append(img, make([]byte, 0x540-len(raw))...)
}

func TestLocate(t *testing.T) {
	t.Parallel()

	t.Run("at start", func(t *testing.T) {
		t.Parallel()
		img := buildImage(t, 0, false)
		loc, err := Locate(bytes.NewReader(img), int64(len(img)))
		require.NoError(t, err)
		assert.Equal(t, int64(0), loc.Offset)
		assert.Nil(t, loc.UserData)
	})

	t.Run("after padding", func(t *testing.T) {
		t.Parallel()
		img := buildImage(t, 0x400, false)
		loc, err := Locate(bytes.NewReader(img), int64(len(img)))
		require.NoError(t, err)
		assert.Equal(t, int64(0x400), loc.Offset)
	})

	t.Run("via user data", func(t *testing.T) {
		t.Parallel()
		img := buildImage(t, 0x200, true)
		loc, err := Locate(bytes.NewReader(img), int64(len(img)))
		require.NoError(t, err)
		assert.Equal(t, int64(0x200), loc.Offset)
		require.NotNil(t, loc.UserData)
		assert.Equal(t, []byte("WC3!"), loc.UserData.Data)
	})

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		img := make([]byte, 0x1000)
		_, err := Locate(bytes.NewReader(img), int64(len(img)))
		require.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("skips a broken header", func(t *testing.T) {
		t.Parallel()
		img := buildImage(t, 0x400, false)
		binary.LittleEndian.PutUint32(img, HeaderSignature)
		loc, err := Locate(bytes.NewReader(img), int64(len(img)))
		require.NoError(t, err)
		assert.Equal(t, int64(0x400), loc.Offset)
	})

	t.Run("broken header only", func(t *testing.T) {
		t.Parallel()
		img := make([]byte, 0x1000)
		binary.LittleEndian.PutUint32(img, HeaderSignature)
		_, err := Locate(bytes.NewReader(img), int64(len(img)))
		require.ErrorIs(t, err, ErrInvalidFormat)
		assert.Contains(t, err.Error(), "header at 0x0")
	})
}

func TestVerifyTableDigests(t *testing.T) {
	t.Parallel()

	hashRaw := bytes.Repeat([]byte{0x11}, 16*16)
	blockRaw := bytes.Repeat([]byte{0x22}, 4*16)

	h := sampleHeader(V4)
	h.HashTablePos = HeaderSizeV4
	h.BlockTablePos = h.HashTablePos + uint64(len(hashRaw))
	h.ArchiveSize64 = h.BlockTablePos + uint64(len(blockRaw))
	h.ArchiveSize32 = uint32(h.ArchiveSize64) //nolint:gosec // small
	h.MD5HashTable = Digest(hashRaw)
	h.MD5BlockTable = Digest(blockRaw)

	hdr, err := h.MarshalBinary()
	require.NoError(t, err)
	img := append(append(hdr, hashRaw...), blockRaw...)

	require.NoError(t, VerifyTableDigests(bytes.NewReader(img), 0, int64(len(img)), h))

	img[h.BlockTablePos+3] ^= 0xFF
	err = VerifyTableDigests(bytes.NewReader(img), 0, int64(len(img)), h)
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "block")

	img[h.BlockTablePos+3] ^= 0xFF
	img[0x30] ^= 0xFF
	err = VerifyTableDigests(bytes.NewReader(img), 0, int64(len(img)), h)
	require.ErrorIs(t, err, ErrInvalidFormat)
	assert.Contains(t, err.Error(), "header")

	assert.NoError(t, VerifyTableDigests(bytes.NewReader(nil), 0, 0, sampleHeader(V2)))
}
