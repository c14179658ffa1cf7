package mpq

import mpqcore "github.com/meigma/mpq/core"

// Errors re-exported from core.
var (
	// ErrIO wraps failures of the underlying byte source or file system.
	ErrIO = mpqcore.ErrIO

	// ErrInvalidFormat is returned when archive structures are malformed.
	ErrInvalidFormat = mpqcore.ErrInvalidFormat

	// ErrUnsupportedVersion is returned for header versions above v4.
	ErrUnsupportedVersion = mpqcore.ErrUnsupportedVersion

	// ErrNotFound is returned when a name is not present. It matches
	// fs.ErrNotExist.
	ErrNotFound = mpqcore.ErrNotFound

	// ErrHashTableFull is returned when no hash slot is free.
	ErrHashTableFull = mpqcore.ErrHashTableFull

	// ErrCorruptSector is returned when a sector checksum does not match.
	ErrCorruptSector = mpqcore.ErrCorruptSector

	// ErrDecompression is returned when decompression fails.
	ErrDecompression = mpqcore.ErrDecompression

	// ErrDecryption is returned when encrypted data cannot be decrypted.
	ErrDecryption = mpqcore.ErrDecryption

	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = mpqcore.ErrSignatureInvalid

	// ErrTableEncoding is returned when a table cannot be encoded.
	ErrTableEncoding = mpqcore.ErrTableEncoding

	// ErrExists is returned when the target name is already present.
	ErrExists = mpqcore.ErrExists

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = mpqcore.ErrSizeOverflow

	// ErrUnsupportedPatch is returned for binary-diff patch files.
	ErrUnsupportedPatch = mpqcore.ErrUnsupportedPatch

	// ErrSymlink is returned when a symlink is encountered where not allowed.
	ErrSymlink = mpqcore.ErrSymlink
)

// Error types re-exported from core.
type (
	// DecompressionError names the algorithm and sector that failed.
	DecompressionError = mpqcore.DecompressionError

	// ChecksumError reports a sector whose stored Adler-32 does not match.
	ChecksumError = mpqcore.ChecksumError
)
