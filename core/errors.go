package mpq

import (
	"github.com/meigma/mpq/core/internal/compress"
	"github.com/meigma/mpq/core/internal/mpqtype"
	"github.com/meigma/mpq/core/internal/platform"
	"github.com/meigma/mpq/core/internal/sector"
)

// Sentinel errors re-exported from internal/mpqtype.
var (
	// ErrIO wraps failures of the underlying byte source or file system.
	ErrIO = mpqtype.ErrIO

	// ErrInvalidFormat is returned when archive structures are malformed.
	ErrInvalidFormat = mpqtype.ErrInvalidFormat

	// ErrUnsupportedVersion is returned for header versions above v4.
	ErrUnsupportedVersion = mpqtype.ErrUnsupportedVersion

	// ErrNotFound is returned when a name is not present. It matches
	// fs.ErrNotExist.
	ErrNotFound = mpqtype.ErrNotFound

	// ErrHashTableFull is returned when no hash slot is free.
	ErrHashTableFull = mpqtype.ErrHashTableFull

	// ErrCorruptSector is returned when a sector checksum does not match.
	ErrCorruptSector = mpqtype.ErrCorruptSector

	// ErrDecompression is returned when decompression fails.
	ErrDecompression = mpqtype.ErrDecompression

	// ErrDecryption is returned when encrypted data cannot be decrypted.
	ErrDecryption = mpqtype.ErrDecryption

	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = mpqtype.ErrSignatureInvalid

	// ErrTableEncoding is returned when a table cannot be encoded.
	ErrTableEncoding = mpqtype.ErrTableEncoding

	// ErrExists is returned when the target name is already present.
	ErrExists = mpqtype.ErrExists

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = mpqtype.ErrSizeOverflow

	// ErrUnsupportedPatch is returned for binary-diff patch files.
	ErrUnsupportedPatch = mpqtype.ErrUnsupportedPatch

	// ErrSymlink is returned when a symlink is encountered where not allowed.
	ErrSymlink = platform.ErrSymlink
)

// Error types re-exported from the codec packages.
type (
	// DecompressionError names the algorithm and sector that failed.
	DecompressionError = compress.DecompressionError

	// ChecksumError reports a sector whose stored Adler-32 does not match.
	ChecksumError = sector.ChecksumError
)
