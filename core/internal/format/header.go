// Package format locates and parses the archive header.
package format

import (
	"crypto/md5" //nolint:gosec // the v4 header stores MD5 digests
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/core/internal/mpqtype"
)

// Re-export sentinel errors.
var (
	ErrInvalidFormat      = mpqtype.ErrInvalidFormat
	ErrUnsupportedVersion = mpqtype.ErrUnsupportedVersion
)

// MaxTableEntries caps the hash and block table counts.
const MaxTableEntries = mpqtype.MaxTableEntries

// Signatures.
const (
	HeaderSignature   = 0x1A51504D // "MPQ\x1A"
	UserDataSignature = 0x1B51504D // "MPQ\x1B"
)

// Version is the zero-based format version stored in the header.
type Version uint16

// Known versions.
const (
	V1 Version = iota
	V2
	V3
	V4
)

// Header sizes per version.
const (
	HeaderSizeV1 = 0x20
	HeaderSizeV2 = 0x2C
	HeaderSizeV3 = 0x44
	HeaderSizeV4 = 0xD0

	// MaxSectorShift bounds the sector size shift to 512 << 23 bytes.
	MaxSectorShift = 23

	md5Size        = md5.Size
	v4HeaderMD5Off = 0xC0
)

// HeaderSize returns the canonical header size of v.
func (v Version) HeaderSize() uint32 {
	switch v {
	case V1:
		return HeaderSizeV1
	case V2:
		return HeaderSizeV2
	case V3:
		return HeaderSizeV3
	default:
		return HeaderSizeV4
	}
}

func (v Version) String() string { return fmt.Sprintf("v%d", uint16(v)+1) }

// Header is the decoded archive header. Positions are relative to the
// start of the archive (the offset of the header itself).
type Header struct {
	HeaderSize      uint32
	ArchiveSize32   uint32
	Version         Version
	SectorSizeShift uint16

	HashTablePos    uint64
	BlockTablePos   uint64
	HashTableCount  uint32
	BlockTableCount uint32

	// v2
	HiBlockTablePos uint64

	// v3
	ArchiveSize64 uint64
	BETTablePos   uint64
	HETTablePos   uint64

	// v4
	HashTableSize64    uint64
	BlockTableSize64   uint64
	HiBlockTableSize64 uint64
	HETTableSize64     uint64
	BETTableSize64     uint64
	RawChunkSize       uint32

	MD5BlockTable   [md5Size]byte
	MD5HashTable    [md5Size]byte
	MD5HiBlockTable [md5Size]byte
	MD5BETTable     [md5Size]byte
	MD5HETTable     [md5Size]byte
	MD5Header       [md5Size]byte
}

// SectorSize returns the size of one sector in bytes.
func (h *Header) SectorSize() uint32 { return 512 << h.SectorSizeShift }

// ArchiveSize returns the archive size, preferring the 64-bit field.
func (h *Header) ArchiveSize() uint64 {
	if h.Version >= V3 && h.ArchiveSize64 != 0 {
		return h.ArchiveSize64
	}
	return uint64(h.ArchiveSize32)
}

// ParseHeader decodes the header at the start of buf. buf must hold at
// least the header bytes for the stored version.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSizeV1 {
		return nil, fmt.Errorf("%w: header truncated (%d bytes)", ErrInvalidFormat, len(buf))
	}
	le := binary.LittleEndian
	if le.Uint32(buf) != HeaderSignature {
		return nil, fmt.Errorf("%w: missing header signature", ErrInvalidFormat)
	}

	h := &Header{
		HeaderSize:      le.Uint32(buf[0x04:]),
		ArchiveSize32:   le.Uint32(buf[0x08:]),
		Version:         Version(le.Uint16(buf[0x0C:])),
		SectorSizeShift: le.Uint16(buf[0x0E:]),
		HashTablePos:    uint64(le.Uint32(buf[0x10:])),
		BlockTablePos:   uint64(le.Uint32(buf[0x14:])),
		HashTableCount:  le.Uint32(buf[0x18:]),
		BlockTableCount: le.Uint32(buf[0x1C:]),
	}
	if h.Version > V4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, h.Version)
	}
	if h.SectorSizeShift > MaxSectorShift {
		return nil, fmt.Errorf("%w: sector size shift %d", ErrInvalidFormat, h.SectorSizeShift)
	}
	need := h.Version.HeaderSize()
	if len(buf) < int(need) {
		return nil, fmt.Errorf("%w: %s header truncated (%d of %d bytes)", ErrInvalidFormat, h.Version, len(buf), need)
	}

	if h.Version >= V2 {
		h.HiBlockTablePos = le.Uint64(buf[0x20:])
		h.HashTablePos |= uint64(le.Uint16(buf[0x28:])) << 32
		h.BlockTablePos |= uint64(le.Uint16(buf[0x2A:])) << 32
	}
	if h.Version >= V3 {
		h.ArchiveSize64 = le.Uint64(buf[0x2C:])
		h.BETTablePos = le.Uint64(buf[0x34:])
		h.HETTablePos = le.Uint64(buf[0x3C:])
	}
	if h.Version >= V4 {
		h.HashTableSize64 = le.Uint64(buf[0x44:])
		h.BlockTableSize64 = le.Uint64(buf[0x4C:])
		h.HiBlockTableSize64 = le.Uint64(buf[0x54:])
		h.HETTableSize64 = le.Uint64(buf[0x5C:])
		h.BETTableSize64 = le.Uint64(buf[0x64:])
		h.RawChunkSize = le.Uint32(buf[0x6C:])
		copy(h.MD5BlockTable[:], buf[0x70:])
		copy(h.MD5HashTable[:], buf[0x80:])
		copy(h.MD5HiBlockTable[:], buf[0x90:])
		copy(h.MD5BETTable[:], buf[0xA0:])
		copy(h.MD5HETTable[:], buf[0xB0:])
		copy(h.MD5Header[:], buf[0xC0:])
	}
	return h, nil
}

// MarshalBinary encodes the header for its version. For v4 headers the
// header digest is recomputed over the preceding bytes.
func (h *Header) MarshalBinary() ([]byte, error) {
	if h.Version > V4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, h.Version)
	}
	size := h.Version.HeaderSize()
	buf := make([]byte, size)
	le := binary.LittleEndian

	le.PutUint32(buf[0x00:], HeaderSignature)
	le.PutUint32(buf[0x04:], size)
	le.PutUint32(buf[0x08:], h.ArchiveSize32)
	le.PutUint16(buf[0x0C:], uint16(h.Version))
	le.PutUint16(buf[0x0E:], h.SectorSizeShift)
	le.PutUint32(buf[0x10:], uint32(h.HashTablePos))  //nolint:gosec // high word stored separately
	le.PutUint32(buf[0x14:], uint32(h.BlockTablePos)) //nolint:gosec // high word stored separately
	le.PutUint32(buf[0x18:], h.HashTableCount)
	le.PutUint32(buf[0x1C:], h.BlockTableCount)

	if h.Version < V2 && (h.HashTablePos>>32 != 0 || h.BlockTablePos>>32 != 0) {
		return nil, fmt.Errorf("%w: table position beyond 4 GiB needs v2", ErrInvalidFormat)
	}
	if h.Version >= V2 {
		le.PutUint64(buf[0x20:], h.HiBlockTablePos)
		le.PutUint16(buf[0x28:], uint16(h.HashTablePos>>32))  //nolint:gosec // 48-bit positions
		le.PutUint16(buf[0x2A:], uint16(h.BlockTablePos>>32)) //nolint:gosec // 48-bit positions
	}
	if h.Version >= V3 {
		le.PutUint64(buf[0x2C:], h.ArchiveSize64)
		le.PutUint64(buf[0x34:], h.BETTablePos)
		le.PutUint64(buf[0x3C:], h.HETTablePos)
	}
	if h.Version >= V4 {
		le.PutUint64(buf[0x44:], h.HashTableSize64)
		le.PutUint64(buf[0x4C:], h.BlockTableSize64)
		le.PutUint64(buf[0x54:], h.HiBlockTableSize64)
		le.PutUint64(buf[0x5C:], h.HETTableSize64)
		le.PutUint64(buf[0x64:], h.BETTableSize64)
		le.PutUint32(buf[0x6C:], h.RawChunkSize)
		copy(buf[0x70:], h.MD5BlockTable[:])
		copy(buf[0x80:], h.MD5HashTable[:])
		copy(buf[0x90:], h.MD5HiBlockTable[:])
		copy(buf[0xA0:], h.MD5BETTable[:])
		copy(buf[0xB0:], h.MD5HETTable[:])
		h.MD5Header = md5.Sum(buf[:v4HeaderMD5Off]) //nolint:gosec // format-defined digest
		copy(buf[0xC0:], h.MD5Header[:])
	}
	return buf, nil
}

// Validate checks table placement against the number of bytes available
// after the header.
func (h *Header) Validate(available int64) error {
	if h.HashTableCount == 0 && h.HETTablePos == 0 {
		return fmt.Errorf("%w: archive has no hash table", ErrInvalidFormat)
	}
	if h.HashTableCount > MaxTableEntries {
		return fmt.Errorf("%w: hash table count %d exceeds %d", ErrInvalidFormat, h.HashTableCount, MaxTableEntries)
	}
	if h.BlockTableCount > MaxTableEntries {
		return fmt.Errorf("%w: block table count %d exceeds %d", ErrInvalidFormat, h.BlockTableCount, MaxTableEntries)
	}
	if h.HashTableCount != 0 && h.HashTableCount&(h.HashTableCount-1) != 0 {
		return fmt.Errorf("%w: hash table count %d is not a power of two", ErrInvalidFormat, h.HashTableCount)
	}
	limit := uint64(available) //nolint:gosec // non-negative source size
	check := func(name string, pos, size uint64) error {
		if pos == 0 && size == 0 {
			return nil
		}
		if pos > limit || size > limit-pos {
			return fmt.Errorf("%w: %s table [0x%X, +%d) exceeds archive of %d bytes", ErrInvalidFormat, name, pos, size, limit)
		}
		return nil
	}
	sizes := h.TableSizes(available)
	for _, tc := range []struct {
		name      string
		pos, size uint64
	}{
		{"hash", h.HashTablePos, sizes.Hash},
		{"block", h.BlockTablePos, sizes.Block},
		{"hi-block", h.HiBlockTablePos, sizes.HiBlock},
		{"het", h.HETTablePos, sizes.HET},
		{"bet", h.BETTablePos, sizes.BET},
	} {
		if err := check(tc.name, tc.pos, tc.size); err != nil {
			return err
		}
	}
	return nil
}
