package special

import (
	"crypto/md5" //nolint:gosec // the attributes file stores MD5 digests
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

// AttributesVersion is the only (attributes) version in use.
const AttributesVersion = 100

// Attribute flags.
const (
	AttrCRC32    uint32 = 0x1
	AttrFileTime uint32 = 0x2
	AttrMD5      uint32 = 0x4
	AttrPatchBit uint32 = 0x8

	AttrAll = AttrCRC32 | AttrFileTime | AttrMD5
)

// windowsEpochDelta is the number of 100ns ticks between 1601-01-01 and the
// Unix epoch.
const windowsEpochDelta = 116444736000000000

// FileAttributes holds the per-block values of an (attributes) file.
// Fields not covered by the file's flags are zero.
type FileAttributes struct {
	CRC32    uint32
	FileTime uint64
	MD5      [md5.Size]byte
	Patch    bool
}

// ModTime converts FileTime to a time.Time. A zero FileTime yields the zero
// time.
func (a FileAttributes) ModTime() time.Time {
	if a.FileTime == 0 {
		return time.Time{}
	}
	ticks := int64(a.FileTime - windowsEpochDelta) //nolint:gosec // FILETIME values after 1601
	return time.Unix(0, ticks*100).UTC()
}

// ToFileTime converts t to a Windows FILETIME.
func ToFileTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100) + windowsEpochDelta //nolint:gosec // times after 1970
}

// Attributes is a decoded (attributes) file.
type Attributes struct {
	Version uint32
	Flags   uint32
	Files   []FileAttributes
}

// Compute fills the attribute values of one file's contents.
func Compute(data []byte, modTime time.Time, patch bool) FileAttributes {
	return FileAttributes{
		CRC32:    crc32.ChecksumIEEE(data),
		FileTime: ToFileTime(modTime),
		MD5:      md5.Sum(data), //nolint:gosec // format-defined digest
		Patch:    patch,
	}
}

// ParseAttributes decodes an (attributes) file for an archive with
// blockCount block entries. A short patch bit array is accepted; missing
// bits read as zero.
func ParseAttributes(data []byte, blockCount int) (*Attributes, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: attributes truncated", mpqtype.ErrInvalidFormat)
	}
	a := &Attributes{
		Version: binary.LittleEndian.Uint32(data[0:]),
		Flags:   binary.LittleEndian.Uint32(data[4:]),
		Files:   make([]FileAttributes, blockCount),
	}
	if a.Version != AttributesVersion {
		return nil, fmt.Errorf("%w: attributes version %d", mpqtype.ErrInvalidFormat, a.Version)
	}

	need := 8
	if a.Flags&AttrCRC32 != 0 {
		need += 4 * blockCount
	}
	if a.Flags&AttrFileTime != 0 {
		need += 8 * blockCount
	}
	if a.Flags&AttrMD5 != 0 {
		need += md5.Size * blockCount
	}
	if len(data) < need {
		return nil, fmt.Errorf("%w: attributes hold %d bytes, need %d", mpqtype.ErrInvalidFormat, len(data), need)
	}

	p := data[8:]
	if a.Flags&AttrCRC32 != 0 {
		for i := range a.Files {
			a.Files[i].CRC32 = binary.LittleEndian.Uint32(p[i*4:])
		}
		p = p[4*blockCount:]
	}
	if a.Flags&AttrFileTime != 0 {
		for i := range a.Files {
			a.Files[i].FileTime = binary.LittleEndian.Uint64(p[i*8:])
		}
		p = p[8*blockCount:]
	}
	if a.Flags&AttrMD5 != 0 {
		for i := range a.Files {
			copy(a.Files[i].MD5[:], p[i*md5.Size:])
		}
		p = p[md5.Size*blockCount:]
	}
	if a.Flags&AttrPatchBit != 0 {
		for i := range a.Files {
			if i/8 < len(p) {
				a.Files[i].Patch = p[i/8]&(1<<(i%8)) != 0
			}
		}
	}
	return a, nil
}

// MarshalBinary encodes the attributes.
func (a *Attributes) MarshalBinary() ([]byte, error) {
	n := len(a.Files)
	out := make([]byte, 8, 8+n*(4+8+md5.Size)+(n+7)/8)
	binary.LittleEndian.PutUint32(out[0:], AttributesVersion)
	binary.LittleEndian.PutUint32(out[4:], a.Flags)

	if a.Flags&AttrCRC32 != 0 {
		for _, f := range a.Files {
			out = binary.LittleEndian.AppendUint32(out, f.CRC32)
		}
	}
	if a.Flags&AttrFileTime != 0 {
		for _, f := range a.Files {
			out = binary.LittleEndian.AppendUint64(out, f.FileTime)
		}
	}
	if a.Flags&AttrMD5 != 0 {
		for _, f := range a.Files {
			out = append(out, f.MD5[:]...)
		}
	}
	if a.Flags&AttrPatchBit != 0 {
		bits := make([]byte, (n+7)/8)
		for i, f := range a.Files {
			if f.Patch {
				bits[i/8] |= 1 << (i % 8)
			}
		}
		out = append(out, bits...)
	}
	return out, nil
}

// Verify checks data against the recorded values of one block. Values not
// covered by the flags are not checked.
func (a *Attributes) Verify(block int, data []byte) error {
	if block < 0 || block >= len(a.Files) {
		return fmt.Errorf("%w: block %d has no attributes", mpqtype.ErrInvalidFormat, block)
	}
	f := a.Files[block]
	if a.Flags&AttrCRC32 != 0 && f.CRC32 != 0 {
		if got := crc32.ChecksumIEEE(data); got != f.CRC32 {
			return fmt.Errorf("%w: crc32 0x%08X, want 0x%08X", mpqtype.ErrCorruptSector, got, f.CRC32)
		}
	}
	if a.Flags&AttrMD5 != 0 && f.MD5 != [md5.Size]byte{} {
		if got := md5.Sum(data); got != f.MD5 { //nolint:gosec // format-defined digest
			return fmt.Errorf("%w: md5 mismatch", mpqtype.ErrCorruptSector)
		}
	}
	return nil
}
