// Package disk provides a directory-backed cache.Cache for decoded archive
// files.
//
// Each entry is one file named by the hex cache key, holding the decoded
// bytes followed by their CRC32. Entries that fail the check are removed and
// reported as misses, so a cache directory shared by several processes never
// serves a torn write.
package disk

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/meigma/mpq/core/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	defaultFilePerm       = 0o600

	// trailerSize is the CRC32 appended to every entry.
	trailerSize = 4
)

// Cache implements cache.Cache using the local filesystem.
// The cache is safe for concurrent use.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64 // 0 = unlimited
	logger         *slog.Logger

	bytes   atomic.Int64 // bytes on disk, trailers included
	pruneMu sync.Mutex
}

var _ cache.Cache = (*Cache)(nil)

// Option configures a disk cache.
type Option func(*Cache)

// WithShardPrefixLen sets the number of hex characters of the key used as a
// subdirectory name. Use 0 to store every entry directly in the root.
// Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *Cache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes caps the bytes kept on disk. 0 disables the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithLogger sets the logger for evictions and dropped entries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New opens or creates a cache rooted at dir. Entries left by an earlier
// process count toward the size limit.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("disk cache: directory is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, fmt.Errorf("disk cache: shard prefix length %d is negative", c.shardPrefixLen)
	}
	if c.maxBytes < 0 {
		return nil, fmt.Errorf("disk cache: max bytes %d is negative", c.maxBytes)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, fmt.Errorf("disk cache: %w", err)
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, fmt.Errorf("disk cache: scan %s: %w", dir, err)
	}
	c.bytes.Store(size)
	return c, nil
}

// Get returns the decoded bytes stored under key. A damaged entry is removed
// and reported as a miss.
func (c *Cache) Get(key []byte) ([]byte, bool) {
	path, err := c.path(key)
	if err != nil {
		return nil, false
	}
	raw, err := os.ReadFile(path) //nolint:gosec // path is derived from the key
	if err != nil {
		return nil, false
	}
	content, ok := unseal(raw)
	if !ok {
		c.logger.Warn("dropping damaged cache entry", "path", path, "size", len(raw))
		c.remove(path)
		return nil, false
	}
	return content, true
}

// Put stores content under key through a temp file and rename. An existing
// entry is kept as is.
func (c *Cache) Put(key []byte, content []byte) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		return nil
	}

	size := int64(len(content)) + trailerSize
	ok, err := c.ensureCapacity(size)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Debug("entry exceeds cache limit", "size", size, "max_bytes", c.maxBytes)
		return nil
	}

	if err := c.writeEntry(path, content); err != nil {
		return fmt.Errorf("disk cache: %w", err)
	}
	c.bytes.Add(size)
	return nil
}

func (c *Cache) writeEntry(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(content))
	if _, err := tmp.Write(content); err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(trailer[:]); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		// Another writer won the race with the same bytes.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// Delete removes the entry for key. A missing entry is not an error.
func (c *Cache) Delete(key []byte) error {
	path, err := c.path(key)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("disk cache: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("disk cache: %w", err)
	}
	c.bytes.Add(-info.Size())
	return nil
}

// MaxBytes returns the configured limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the bytes currently on disk.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the least recently written entries until at most
// targetBytes remain and returns the bytes freed.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, max(targetBytes, 0))
	if err != nil {
		return 0, fmt.Errorf("disk cache: prune: %w", err)
	}
	c.bytes.Store(remaining)
	if freed > 0 {
		c.logger.Debug("pruned cache", "freed", freed, "remaining", remaining)
	}
	return freed, nil
}

func (c *Cache) remove(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if os.Remove(path) == nil {
		c.bytes.Add(-info.Size())
	}
}

func (c *Cache) path(key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("disk cache: key is empty")
	}
	name := hex.EncodeToString(key)
	if c.shardPrefixLen == 0 {
		return filepath.Join(c.dir, name), nil
	}
	return filepath.Join(c.dir, name[:min(c.shardPrefixLen, len(name))], name), nil
}

// ensureCapacity reports whether need bytes fit, pruning old entries first
// when the limit would be exceeded.
func (c *Cache) ensureCapacity(need int64) (bool, error) {
	switch {
	case c.maxBytes == 0:
		return true, nil
	case need > c.maxBytes:
		return false, nil
	case c.SizeBytes()+need <= c.maxBytes:
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}

// unseal splits an entry into content and trailer and checks the CRC32.
func unseal(raw []byte) ([]byte, bool) {
	if len(raw) < trailerSize {
		return nil, false
	}
	content := raw[:len(raw)-trailerSize]
	want := binary.LittleEndian.Uint32(raw[len(raw)-trailerSize:])
	return content, crc32.ChecksumIEEE(content) == want
}
