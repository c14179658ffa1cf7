package tables

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/mpqtype"
)

// Re-export sentinel errors.
var (
	ErrInvalidFormat = mpqtype.ErrInvalidFormat
	ErrHashTableFull = mpqtype.ErrHashTableFull
	ErrTableEncoding = mpqtype.ErrTableEncoding
)

// Limits on what a stored table may ask to be unpacked into.
const (
	maxEntries = mpqtype.MaxTableEntries

	// maxExtBody bounds the decoded body of a HET or BET table.
	maxExtBody = maxEntries * 32
)

// Table encryption keys.
var (
	HashTableKey  = crypto.HashTableKey
	BlockTableKey = crypto.BlockTableKey
)

// unpackTable decrypts a stored classic table and, when it is shorter than
// want bytes, decompresses it.
func unpackTable(raw []byte, want int, key uint32) ([]byte, error) {
	if want > maxEntries*HashEntrySize {
		return nil, fmt.Errorf("%w: table of %d bytes exceeds limit", ErrInvalidFormat, want)
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	crypto.Decrypt(buf, key)

	switch {
	case len(buf) == want:
		return buf, nil
	case len(buf) > want:
		return buf[:want], nil
	}
	out, err := compress.Decompress(buf, want)
	if err != nil {
		return nil, fmt.Errorf("%w: table payload: %w", ErrInvalidFormat, err)
	}
	return out, nil
}

// Extended table framing used by HET and BET: a 12-byte header holding the
// signature, a version and the size of the body that follows.
const (
	extHeaderSize = 12
	extVersion    = 1

	hetSignature = 0x1A544548 // "HET\x1A"
	betSignature = 0x1A544542 // "BET\x1A"
)

// readExtTable validates the extended header and returns the decrypted,
// decompressed body.
func readExtTable(raw []byte, sig, key uint32) ([]byte, error) {
	if len(raw) < extHeaderSize {
		return nil, fmt.Errorf("%w: extended table too small", ErrInvalidFormat)
	}
	if got := binary.LittleEndian.Uint32(raw); got != sig {
		return nil, fmt.Errorf("%w: extended table signature 0x%08X", ErrInvalidFormat, got)
	}
	dataSize := int(binary.LittleEndian.Uint32(raw[8:]))
	if dataSize > maxExtBody {
		return nil, fmt.Errorf("%w: extended table body of %d bytes exceeds limit", ErrInvalidFormat, dataSize)
	}

	body := make([]byte, len(raw)-extHeaderSize)
	copy(body, raw[extHeaderSize:])
	crypto.Decrypt(body, key)

	if len(body) >= dataSize {
		return body[:dataSize], nil
	}
	out, err := compress.Decompress(body, dataSize)
	if err != nil {
		return nil, fmt.Errorf("%w: extended table payload: %w", ErrInvalidFormat, err)
	}
	return out, nil
}

// writeExtTable frames body with the extended header, optionally
// compresses it with mask and encrypts everything after the header.
func writeExtTable(sig uint32, body []byte, key uint32, mask compress.Mask) []byte {
	payload := body
	if mask != 0 {
		if packed, ok := compress.Compress(body, mask); ok {
			payload = packed
		}
	}
	out := make([]byte, extHeaderSize, extHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], sig)
	binary.LittleEndian.PutUint32(out[4:], extVersion)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(body))) //nolint:gosec // table bodies are far below 4 GiB
	out = append(out, payload...)
	crypto.Encrypt(out[extHeaderSize:], key)
	return out
}
