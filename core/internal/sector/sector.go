// Package sector reads and writes file payloads: the sector offset table,
// per-sector compression and encryption, and the optional checksum array.
package sector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"
	"io"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/mpqtype"
	"github.com/meigma/mpq/core/internal/tables"
)

// Re-export sentinel errors.
var (
	ErrCorruptSector = mpqtype.ErrCorruptSector
	ErrDecryption    = mpqtype.ErrDecryption
	ErrInvalidFormat = mpqtype.ErrInvalidFormat
	ErrIO            = mpqtype.ErrIO
	ErrSizeOverflow  = mpqtype.ErrSizeOverflow
)

// ChecksumError reports a sector whose stored checksum does not match.
type ChecksumError struct {
	Sector int
	Want   uint32
	Got    uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("mpq: sector %d checksum 0x%08X, want 0x%08X", e.Sector, e.Got, e.Want)
}

// Is reports whether target is ErrCorruptSector.
func (e *ChecksumError) Is(target error) bool { return target == ErrCorruptSector }

// Report describes integrity findings of a read that did not fail.
type Report struct {
	// Sectors is the number of sectors decoded.
	Sectors int

	// Checked reports whether the payload carried sector checksums.
	Checked bool

	// CRCFailures lists one *ChecksumError per mismatching sector.
	CRCFailures []error
}

// OK reports whether no checksum mismatched.
func (r Report) OK() bool { return len(r.CRCFailures) == 0 }

// Err joins the checksum failures, or returns nil.
func (r Report) Err() error { return errors.Join(r.CRCFailures...) }

// Options controls Read.
type Options struct {
	// SectorSize is the archive sector size in bytes.
	SectorSize uint32

	// Strict turns checksum mismatches into errors.
	Strict bool

	// Limit is the number of source bytes from base to the end of the
	// archive. A payload reaching past it is rejected. Zero disables the
	// check.
	Limit int64
}

// MaxFileSize caps the decoded size of one file.
const MaxFileSize = 1 << 30

// SectorCount returns the number of sectors a file of size bytes spans.
func SectorCount(size, sectorSize uint32) int {
	return int((uint64(size) + uint64(sectorSize) - 1) / uint64(sectorSize))
}

// Read decodes the payload described by block. base is the absolute archive
// offset and key the file key, used only when the block is encrypted.
func Read(r io.ReaderAt, base int64, block tables.BlockEntry, key uint32, opts Options) ([]byte, Report, error) {
	var rep Report
	if block.FileSize == 0 {
		return []byte{}, rep, nil
	}
	if opts.SectorSize == 0 {
		return nil, rep, fmt.Errorf("%w: zero sector size", ErrInvalidFormat)
	}
	if err := CheckBounds(block, opts.Limit); err != nil {
		return nil, rep, err
	}

	raw := make([]byte, block.CompressedSize)
	if err := readFull(r, raw, base+int64(block.FilePos)); err != nil { //nolint:gosec // 48-bit positions
		return nil, rep, err
	}

	switch {
	case block.Has(tables.FlagSingleUnit):
		rep.Sectors = 1
		out, err := readSingleUnit(raw, block, key)
		return out, rep, err
	case !block.Compressed():
		return readPlain(raw, block, key, opts.SectorSize, &rep)
	default:
		return readSectors(raw, block, key, opts, &rep)
	}
}

// CheckBounds rejects entries whose sizes cannot belong to an archive of
// limit bytes before anything is allocated for them. A limit of zero or
// less skips the position check.
func CheckBounds(block tables.BlockEntry, limit int64) error {
	if block.FileSize > MaxFileSize {
		return fmt.Errorf("%w: file size %d exceeds %d", ErrInvalidFormat, block.FileSize, MaxFileSize)
	}
	if limit <= 0 {
		return nil
	}
	end := uint64(limit) //nolint:gosec // checked positive
	if block.FilePos > end || uint64(block.CompressedSize) > end-block.FilePos {
		return fmt.Errorf("%w: payload [0x%X, +%d) exceeds archive of %d bytes", ErrInvalidFormat, block.FilePos, block.CompressedSize, end)
	}
	return nil
}

// readFull fills buf from r at off. A short read is an error; io.EOF
// together with a full buffer is not.
func readFull(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: read payload at 0x%X: %w", ErrIO, off, err)
}

func readSingleUnit(raw []byte, block tables.BlockEntry, key uint32) ([]byte, error) {
	if block.Has(tables.FlagEncrypted) {
		crypto.Decrypt(raw, key)
	}
	if !block.Compressed() || block.CompressedSize >= block.FileSize {
		if len(raw) < int(block.FileSize) {
			return nil, fmt.Errorf("%w: single-unit payload holds %d of %d bytes", ErrInvalidFormat, len(raw), block.FileSize)
		}
		return raw[:block.FileSize], nil
	}
	return decodeSector(raw, block, int(block.FileSize), -1)
}

func readPlain(raw []byte, block tables.BlockEntry, key, sectorSize uint32, rep *Report) ([]byte, Report, error) {
	if len(raw) < int(block.FileSize) {
		return nil, *rep, fmt.Errorf("%w: payload holds %d of %d bytes", ErrInvalidFormat, len(raw), block.FileSize)
	}
	raw = raw[:block.FileSize]
	rep.Sectors = SectorCount(block.FileSize, sectorSize)
	if block.Has(tables.FlagEncrypted) {
		for i := range rep.Sectors {
			start := i * int(sectorSize)
			end := min(start+int(sectorSize), len(raw))
			crypto.Decrypt(raw[start:end], key+uint32(i)) //nolint:gosec // sector index fits in uint32
		}
	}
	return raw, *rep, nil
}

func readSectors(raw []byte, block tables.BlockEntry, key uint32, opts Options, rep *Report) ([]byte, Report, error) {
	n := SectorCount(block.FileSize, opts.SectorSize)
	encrypted := block.Has(tables.FlagEncrypted)
	offsets, err := offsetTable(raw, block, n, encrypted, key)
	if err != nil {
		return nil, *rep, err
	}
	rep.Sectors = n

	var sums []uint32
	if block.Has(tables.FlagSectorCRC) {
		sums = checksums(raw, offsets, n, encrypted, key)
		rep.Checked = sums != nil
	}

	out := make([]byte, 0, block.FileSize)
	for i := range n {
		stored := raw[offsets[i]:offsets[i+1]]
		if encrypted {
			crypto.Decrypt(stored, key+uint32(i)) //nolint:gosec // sector index fits in uint32
		}

		if sums != nil && sums[i] != 0 {
			if got := adler32.Checksum(stored); got != sums[i] {
				cerr := &ChecksumError{Sector: i, Want: sums[i], Got: got}
				if opts.Strict {
					return nil, *rep, cerr
				}
				rep.CRCFailures = append(rep.CRCFailures, cerr)
			}
		}

		want := min(int(opts.SectorSize), int(block.FileSize)-len(out))
		if len(stored) >= want {
			out = append(out, stored[:want]...)
			continue
		}
		dec, err := decodeSector(stored, block, want, i)
		if err != nil {
			return nil, *rep, err
		}
		out = append(out, dec...)
	}
	return out, *rep, nil
}

// offsetTable decrypts and validates the sector offset table at the start of
// raw. It returns n+1 offsets, or n+2 when the block carries checksums.
// The table is decrypted with key-1 when encrypted is set.
func offsetTable(raw []byte, block tables.BlockEntry, n int, encrypted bool, key uint32) ([]uint32, error) {
	entries := n + 1
	if block.Has(tables.FlagSectorCRC) {
		entries++
	}
	if len(raw) < entries*4 {
		return nil, fmt.Errorf("%w: sector offset table truncated", ErrInvalidFormat)
	}
	offsets := make([]uint32, entries)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	if encrypted {
		crypto.DecryptWords(offsets, key-1)
	}

	if offsets[0] != uint32(entries*4) { //nolint:gosec // small
		if encrypted {
			return nil, fmt.Errorf("%w: sector offset table does not decrypt", ErrDecryption)
		}
		return nil, fmt.Errorf("%w: sector offset table starts at %d", ErrInvalidFormat, offsets[0])
	}
	for i := 1; i < entries; i++ {
		if offsets[i] < offsets[i-1] || offsets[i] > uint32(len(raw)) { //nolint:gosec // payloads are below 4 GiB
			return nil, fmt.Errorf("%w: sector offset %d out of range", ErrInvalidFormat, i)
		}
	}
	return offsets, nil
}

// checksums returns the per-sector Adler-32 array stored between the last
// sector and the final offset, or nil when it is missing.
func checksums(raw []byte, offsets []uint32, n int, encrypted bool, key uint32) []uint32 {
	region := raw[offsets[n]:offsets[n+1]]
	if len(region) < n*4 {
		return nil
	}
	buf := make([]byte, n*4)
	copy(buf, region)
	if encrypted {
		crypto.Decrypt(buf, key+uint32(n)) //nolint:gosec // sector count fits in uint32
	}
	sums := make([]uint32, n)
	for i := range sums {
		sums[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return sums
}

func decodeSector(stored []byte, block tables.BlockEntry, want, index int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	if block.Has(tables.FlagImplode) {
		out, err = compress.ExplodeSector(stored, want)
	} else {
		out, err = compress.Decompress(stored, want)
	}
	if err != nil {
		return nil, compress.WithSector(err, index)
	}
	return out, nil
}
