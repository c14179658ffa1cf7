package sector

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/sizing"
	"github.com/meigma/mpq/core/internal/tables"
)

// WriteOptions controls Write.
type WriteOptions struct {
	SectorSize uint32

	// Mask selects the compression steps. Zero stores sectors as is.
	Mask compress.Mask

	// Implode uses the legacy PKWare implode flag instead of a mask.
	Implode bool

	// SingleUnit stores the file as one unit without an offset table.
	SingleUnit bool

	// SectorCRC appends a per-sector Adler-32 array.
	SectorCRC bool

	// Encrypt and FixKey are recorded in the flags. The payload itself is
	// encrypted by Encoded.Encrypt once the final key is known.
	Encrypt bool
	FixKey  bool
}

// Encoded is a file payload ready to be placed in an archive.
type Encoded struct {
	Data     []byte
	FileSize uint32
	Flags    uint32

	sectorSize uint32
}

// CompressedSize returns the stored size.
func (e *Encoded) CompressedSize() uint32 { return uint32(len(e.Data)) } //nolint:gosec // payloads are below 4 GiB

// Block returns the block entry describing e at pos.
func (e *Encoded) Block(pos uint64) tables.BlockEntry {
	return tables.BlockEntry{
		FilePos:        pos,
		CompressedSize: e.CompressedSize(),
		FileSize:       e.FileSize,
		Flags:          e.Flags,
	}
}

// Encrypt encrypts the payload in place with key. It is a no-op when the
// flags do not request encryption.
func (e *Encoded) Encrypt(key uint32) error {
	if e.Flags&tables.FlagEncrypted == 0 {
		return nil
	}
	return Transform(e.Data, e.Block(0), e.sectorSize, func(buf []byte, k uint32) { crypto.Encrypt(buf, k) }, key)
}

// Write splits data into sectors, compresses each and builds the offset
// table and checksum array. The result is not yet encrypted.
func Write(data []byte, opts WriteOptions) (*Encoded, error) {
	if opts.SectorSize == 0 {
		return nil, fmt.Errorf("%w: zero sector size", ErrInvalidFormat)
	}
	size, err := sizing.ToUint32(len(data), ErrSizeOverflow)
	if err != nil || size > MaxFileSize {
		return nil, fmt.Errorf("%w: file of %d bytes", ErrSizeOverflow, len(data))
	}
	enc := &Encoded{
		FileSize:   size,
		Flags:      tables.FlagExists,
		sectorSize: opts.SectorSize,
	}
	if opts.Encrypt {
		enc.Flags |= tables.FlagEncrypted
		if opts.FixKey {
			enc.Flags |= tables.FlagFixKey
		}
	}
	if len(data) == 0 {
		enc.Data = []byte{}
		return enc, nil
	}

	compressed := opts.Implode || opts.Mask != 0
	switch {
	case opts.Implode:
		enc.Flags |= tables.FlagImplode
	case opts.Mask != 0:
		enc.Flags |= tables.FlagCompress
	}

	if opts.SingleUnit {
		enc.Flags |= tables.FlagSingleUnit
		enc.Data = packSector(data, opts)
		return enc, nil
	}
	if !compressed {
		enc.Data = append([]byte(nil), data...)
		return enc, nil
	}

	n := SectorCount(enc.FileSize, opts.SectorSize)
	entries := n + 1
	if opts.SectorCRC {
		enc.Flags |= tables.FlagSectorCRC
		entries++
	}

	offsets := make([]int, entries)
	body := make([]byte, 0, len(data)/2)
	sums := make([]uint32, 0, n)
	pos := entries * 4
	for i := range n {
		start := i * int(opts.SectorSize)
		end := min(start+int(opts.SectorSize), len(data))
		stored := packSector(data[start:end], opts)
		offsets[i] = pos
		body = append(body, stored...)
		pos += len(stored)
		if opts.SectorCRC {
			sums = append(sums, adler32.Checksum(stored))
		}
	}
	offsets[n] = pos
	if opts.SectorCRC {
		for _, s := range sums {
			body = binary.LittleEndian.AppendUint32(body, s)
		}
		offsets[n+1] = pos + 4*n
	}

	out := make([]byte, 0, entries*4+len(body))
	for _, o := range offsets {
		// Raw sectors plus the table can push a file just under 4 GiB past it.
		v, err := sizing.ToUint32(o, ErrSizeOverflow)
		if err != nil {
			return nil, fmt.Errorf("sector offset: %w", err)
		}
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	enc.Data = append(out, body...)
	return enc, nil
}

// packSector compresses one sector, falling back to the raw bytes when
// compression does not shrink it.
func packSector(sector []byte, opts WriteOptions) []byte {
	if opts.Implode {
		if packed, err := compress.Implode(sector); err == nil && len(packed) < len(sector) {
			return packed
		}
		return append([]byte(nil), sector...)
	}
	if opts.Mask != 0 {
		if packed, ok := compress.Compress(sector, opts.Mask); ok {
			return packed
		}
	}
	return append([]byte(nil), sector...)
}

// Transform applies fn to every encrypted unit of a stored payload with the
// key that unit uses: the offset table (key-1), each sector (key+i) and the
// checksum array (key+n). It is used to encrypt, decrypt and re-key
// payloads in place. The offset table must be readable in plain form before
// fn runs, so callers decrypting must go through Decrypt instead.
func Transform(raw []byte, block tables.BlockEntry, sectorSize uint32, fn func(buf []byte, key uint32), key uint32) error {
	if block.FileSize == 0 || len(raw) == 0 {
		return nil
	}
	if block.Has(tables.FlagSingleUnit) {
		fn(raw, key)
		return nil
	}
	n := SectorCount(block.FileSize, sectorSize)
	if !block.Compressed() {
		for i := range n {
			start := i * int(sectorSize)
			end := min(start+int(sectorSize), len(raw))
			fn(raw[start:end], key+uint32(i)) //nolint:gosec // sector index fits in uint32
		}
		return nil
	}

	offsets, err := offsetTable(raw, block, n, false, 0)
	if err != nil {
		return err
	}
	for i := range n {
		fn(raw[offsets[i]:offsets[i+1]], key+uint32(i)) //nolint:gosec // sector index fits in uint32
	}
	if block.Has(tables.FlagSectorCRC) {
		fn(raw[offsets[n]:offsets[n+1]], key+uint32(n)) //nolint:gosec // sector count fits in uint32
	}
	fn(raw[:len(offsets)*4], key-1)
	return nil
}

// Rekey re-encrypts a stored payload from oldKey to newKey in place.
func Rekey(raw []byte, block tables.BlockEntry, sectorSize, oldKey, newKey uint32) error {
	if err := Decrypt(raw, block, sectorSize, oldKey); err != nil {
		return err
	}
	return Transform(raw, block, sectorSize, func(buf []byte, k uint32) { crypto.Encrypt(buf, k) }, newKey)
}

// Decrypt decrypts a stored payload in place.
func Decrypt(raw []byte, block tables.BlockEntry, sectorSize, key uint32) error {
	if block.FileSize == 0 || len(raw) == 0 {
		return nil
	}
	if block.Has(tables.FlagSingleUnit) || !block.Compressed() {
		return Transform(raw, block, sectorSize, func(buf []byte, k uint32) { crypto.Decrypt(buf, k) }, key)
	}
	n := SectorCount(block.FileSize, sectorSize)
	entries := n + 1
	if block.Has(tables.FlagSectorCRC) {
		entries++
	}
	if len(raw) < entries*4 {
		return fmt.Errorf("%w: sector offset table truncated", ErrInvalidFormat)
	}
	crypto.Decrypt(raw[:entries*4], key-1)
	offsets, err := offsetTable(raw, block, n, false, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	for i := range n {
		crypto.Decrypt(raw[offsets[i]:offsets[i+1]], key+uint32(i)) //nolint:gosec // sector index fits in uint32
	}
	if block.Has(tables.FlagSectorCRC) {
		crypto.Decrypt(raw[offsets[n]:offsets[n+1]], key+uint32(n)) //nolint:gosec // sector count fits in uint32
	}
	return nil
}
