package special

import (
	"crypto/md5" //nolint:gosec // format-defined digest
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

func TestParseListfile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want []string
	}{
		{name: "crlf", data: "a.txt\r\nb.txt\r\n", want: []string{"a.txt", "b.txt"}},
		{name: "lf only", data: "a.txt\nb.txt", want: []string{"a.txt", "b.txt"}},
		{name: "cr only", data: "a.txt\rb.txt\r", want: []string{"a.txt", "b.txt"}},
		{name: "blank lines", data: "\r\n\r\na.txt\r\n\r\n", want: []string{"a.txt"}},
		{name: "comments", data: "; header\r\n# note\r\nunits\\human.mdx\r\n", want: []string{`units\human.mdx`}},
		{name: "trailing metadata", data: "a.txt;1234\r\nb.txt ; x\r\n", want: []string{"a.txt", "b.txt"}},
		{name: "case-insensitive dedupe", data: "A.TXT\r\na.txt\r\nsub/x\r\nSUB\\X\r\n", want: []string{"A.TXT", "sub/x"}},
		{name: "empty", data: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseListfile([]byte(tt.data)))
		})
	}
}

func TestFormatListfileRoundTrip(t *testing.T) {
	t.Parallel()

	names := []string{"a.txt", `war3map\doodads.w3d`, "(attributes)"}
	raw := FormatListfile(names)
	assert.Equal(t, "a.txt\r\nwar3map\\doodads.w3d\r\n(attributes)\r\n", string(raw))
	assert.Equal(t, names, ParseListfile(raw))
	assert.Empty(t, FormatListfile(nil))
}

func TestIsReserved(t *testing.T) {
	t.Parallel()

	assert.True(t, IsReserved("(listfile)"))
	assert.True(t, IsReserved("(ATTRIBUTES)"))
	assert.True(t, IsReserved("(signature)"))
	assert.False(t, IsReserved("listfile"))
	assert.False(t, IsReserved("a.txt"))
}

func TestFileTimeConversion(t *testing.T) {
	t.Parallel()

	mod := time.Date(2003, 7, 1, 12, 30, 0, 0, time.UTC)
	ft := ToFileTime(mod)
	assert.True(t, mod.Equal(FileAttributes{FileTime: ft}.ModTime()))

	assert.Zero(t, ToFileTime(time.Time{}))
	assert.True(t, FileAttributes{}.ModTime().IsZero())
	assert.Equal(t, uint64(windowsEpochDelta), ToFileTime(time.Unix(0, 0)))
}

func TestAttributesRoundTrip(t *testing.T) {
	t.Parallel()

	mod := time.Date(2010, 1, 2, 3, 4, 5, 0, time.UTC)
	files := []FileAttributes{
		Compute([]byte("first"), mod, false),
		{},
		Compute([]byte("third"), mod, true),
	}

	tests := []struct {
		name  string
		flags uint32
	}{
		{name: "all", flags: AttrAll},
		{name: "crc only", flags: AttrCRC32},
		{name: "with patch bits", flags: AttrAll | AttrPatchBit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := &Attributes{Version: AttributesVersion, Flags: tt.flags, Files: files}
			raw, err := a.MarshalBinary()
			require.NoError(t, err)

			got, err := ParseAttributes(raw, len(files))
			require.NoError(t, err)
			assert.Equal(t, tt.flags, got.Flags)
			for i, f := range files {
				assert.Equal(t, f.CRC32, got.Files[i].CRC32)
				if tt.flags&AttrFileTime != 0 {
					assert.Equal(t, f.FileTime, got.Files[i].FileTime)
					assert.Equal(t, f.MD5, got.Files[i].MD5)
				} else {
					assert.Zero(t, got.Files[i].FileTime)
				}
				if tt.flags&AttrPatchBit != 0 {
					assert.Equal(t, f.Patch, got.Files[i].Patch)
				}
			}
		})
	}
}

func TestAttributesLayout(t *testing.T) {
	t.Parallel()

	a := &Attributes{Flags: AttrCRC32 | AttrPatchBit, Files: []FileAttributes{
		{CRC32: 0x11223344, Patch: true},
		{CRC32: 0x55667788},
	}}
	raw, err := a.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		100, 0, 0, 0,
		0x09, 0, 0, 0,
		0x44, 0x33, 0x22, 0x11,
		0x88, 0x77, 0x66, 0x55,
		0x01,
	}, raw)
}

func TestParseAttributesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated header", data: []byte{100, 0, 0}},
		{name: "bad version", data: []byte{99, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}},
		{name: "short crc array", data: []byte{100, 0, 0, 0, 1, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseAttributes(tt.data, 1)
			require.ErrorIs(t, err, mpqtype.ErrInvalidFormat)
		})
	}
}

func TestAttributesShortPatchBits(t *testing.T) {
	t.Parallel()

	raw := []byte{100, 0, 0, 0, 0x08, 0, 0, 0}
	a, err := ParseAttributes(raw, 12)
	require.NoError(t, err)
	for _, f := range a.Files {
		assert.False(t, f.Patch)
	}
}

func TestAttributesVerify(t *testing.T) {
	t.Parallel()

	data := []byte("payload bytes")
	a := &Attributes{Flags: AttrAll, Files: []FileAttributes{
		Compute(data, time.Time{}, false),
		{},
		{MD5: md5.Sum([]byte("other"))}, //nolint:gosec // format-defined digest
	}}

	require.NoError(t, a.Verify(0, data))
	require.NoError(t, a.Verify(1, data), "zero values are not checked")

	err := a.Verify(0, []byte("tampered"))
	require.ErrorIs(t, err, mpqtype.ErrCorruptSector)

	err = a.Verify(2, data)
	require.ErrorIs(t, err, mpqtype.ErrCorruptSector)

	err = a.Verify(3, data)
	require.True(t, errors.Is(err, mpqtype.ErrInvalidFormat))
}
