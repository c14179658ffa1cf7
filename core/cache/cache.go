package cache

import (
	"crypto/sha256"
	"encoding/binary"
)

// Cache stores decoded file contents.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns cached content for key. Returns nil, false on a miss.
	// Callers must not modify the returned slice.
	Get(key []byte) ([]byte, bool)

	// Put stores content under key. The cache may keep a reference to
	// content, so callers must not modify it afterwards.
	Put(key []byte, content []byte) error

	// Delete removes cached content for key.
	// Implementations should treat missing entries as a no-op.
	Delete(key []byte) error

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)
}

// Location identifies one decoded file.
type Location struct {
	SourceID       string
	FilePos        uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
	Key            uint32
}

// Key returns the SHA-256 cache key for loc.
func Key(loc Location) []byte {
	h := sha256.New()
	_, _ = h.Write([]byte(loc.SourceID)) //nolint:errcheck // hash writes never fail
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], loc.FilePos)
	binary.LittleEndian.PutUint32(buf[8:], loc.CompressedSize)
	binary.LittleEndian.PutUint32(buf[12:], loc.FileSize)
	binary.LittleEndian.PutUint32(buf[16:], loc.Flags)
	binary.LittleEndian.PutUint32(buf[20:], loc.Key)
	_, _ = h.Write(buf[:]) //nolint:errcheck // hash writes never fail
	return h.Sum(nil)
}
