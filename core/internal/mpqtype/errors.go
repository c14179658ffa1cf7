package mpqtype

import (
	"errors"
	"io/fs"
)

// Sentinel errors for archive operations.
var (
	// ErrIO wraps failures of the underlying byte source or file system.
	ErrIO = errors.New("mpq: i/o error")

	// ErrInvalidFormat is returned when archive structures are malformed.
	ErrInvalidFormat = errors.New("mpq: invalid archive format")

	// ErrUnsupportedVersion is returned for header versions above v4.
	ErrUnsupportedVersion = errors.New("mpq: unsupported format version")

	// ErrNotFound is returned when a name is not present.
	ErrNotFound error = notFoundError{}

	// ErrHashTableFull is returned when no hash slot is free.
	ErrHashTableFull = errors.New("mpq: hash table full")

	// ErrCorruptSector is returned when a sector checksum does not match.
	ErrCorruptSector = errors.New("mpq: sector checksum mismatch")

	// ErrDecompression is returned when decompression fails.
	ErrDecompression = errors.New("mpq: decompression failed")

	// ErrDecryption is returned when encrypted data cannot be decrypted.
	ErrDecryption = errors.New("mpq: decryption failed")

	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = errors.New("mpq: signature invalid")

	// ErrTableEncoding is returned when a table cannot be encoded.
	ErrTableEncoding = errors.New("mpq: table encoding failed")

	// ErrExists is returned when the target name is already present.
	ErrExists = errors.New("mpq: file exists")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("mpq: size overflow")

	// ErrUnsupportedPatch is returned for binary-diff patch files.
	ErrUnsupportedPatch = errors.New("mpq: patch files are not supported")
)

type notFoundError struct{}

func (notFoundError) Error() string { return "mpq: file not found" }

// Is lets errors.Is(err, fs.ErrNotExist) match.
func (notFoundError) Is(target error) bool { return target == fs.ErrNotExist }
