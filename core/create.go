package mpq

import (
	"fmt"
	"os"

	"github.com/meigma/mpq/core/internal/format"
	"github.com/meigma/mpq/core/internal/sizing"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/tables"
)

// Defaults used by Create.
const (
	DefaultHashTableSize   = 1024
	DefaultSectorSizeShift = 3
)

// CreateOption configures Create and Rebuild.
type CreateOption func(*createConfig)

type createConfig struct {
	version       Version
	hashTableSize uint32
	sectorShift   uint16
	listfile      bool
	attributes    bool
	attrFlags     uint32
	userData      []byte
	archive       []Option

	// set records which fields were given explicitly, so Rebuild can take
	// the others from the source archive.
	setVersion, setHashSize, setShift, setUserData bool
}

func newCreateConfig(opts []CreateOption) createConfig {
	c := createConfig{
		version:       V1,
		hashTableSize: DefaultHashTableSize,
		sectorShift:   DefaultSectorSizeShift,
		listfile:      true,
		attributes:    true,
		attrFlags:     special.AttrCRC32 | special.AttrFileTime | special.AttrMD5,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *createConfig) validate() error {
	if c.version > V4 {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, c.version)
	}
	if c.hashTableSize == 0 || c.hashTableSize&(c.hashTableSize-1) != 0 {
		return fmt.Errorf("%w: hash table size %d is not a power of two", ErrInvalidFormat, c.hashTableSize)
	}
	if c.sectorShift > format.MaxSectorShift {
		return fmt.Errorf("%w: sector size shift %d exceeds %d", ErrInvalidFormat, c.sectorShift, format.MaxSectorShift)
	}
	return nil
}

// WithVersion selects the header version. v3 and later archives also get
// HET and BET tables. The default is V1.
func WithVersion(v Version) CreateOption {
	return func(c *createConfig) {
		c.version = v
		c.setVersion = true
	}
}

// WithHashTableSize sets the number of hash table slots, which must be a
// power of two. It bounds the number of files the archive can hold.
func WithHashTableSize(n uint32) CreateOption {
	return func(c *createConfig) {
		c.hashTableSize = n
		c.setHashSize = true
	}
}

// WithSectorSizeShift sets the sector size to 512 << shift bytes.
func WithSectorSizeShift(shift uint16) CreateOption {
	return func(c *createConfig) {
		c.sectorShift = shift
		c.setShift = true
	}
}

// WithListfile controls whether (listfile) is maintained. Enabled by
// default.
func WithListfile(enabled bool) CreateOption {
	return func(c *createConfig) {
		c.listfile = enabled
	}
}

// WithAttributes controls whether (attributes) is maintained with the given
// flags. Zero flags disable it. CRC32, file time and MD5 are recorded by
// default.
func WithAttributes(flags uint32) CreateOption {
	return func(c *createConfig) {
		c.attributes = flags != 0
		c.attrFlags = flags
	}
}

// WithUserData places a user-data block holding data in front of the
// archive header.
func WithUserData(data []byte) CreateOption {
	return func(c *createConfig) {
		c.userData = data
		c.setUserData = true
	}
}

// WithArchiveOptions applies opts, such as WithLogger or WithMetrics, to the
// created archive.
func WithArchiveOptions(opts ...Option) CreateOption {
	return func(c *createConfig) {
		c.archive = append(c.archive, opts...)
	}
}

// Attribute flags for WithAttributes.
const (
	AttrCRC32    = special.AttrCRC32
	AttrFileTime = special.AttrFileTime
	AttrMD5      = special.AttrMD5
	AttrPatchBit = special.AttrPatchBit
)

// Create creates an empty archive at path, truncating any existing file.
// The archive is written on Flush or Close.
func Create(path string, opts ...CreateOption) (*Mutable, error) {
	cfg := newCreateConfig(opts)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("%w: create archive: %w", ErrIO, err)
	}
	m, err := newMutable(f, path, cfg)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return m, nil
}

func newMutable(f *os.File, path string, cfg createConfig) (*Mutable, error) {
	hash, err := tables.NewHashTable(cfg.hashTableSize)
	if err != nil {
		return nil, err
	}
	m := &Mutable{
		options:    newOptions(cfg.archive),
		file:       f,
		path:       path,
		userDataAt: -1,
		header: format.Header{
			HeaderSize:      cfg.version.HeaderSize(),
			Version:         cfg.version,
			SectorSizeShift: cfg.sectorShift,
		},
		hash:       hash,
		blocks:     tables.NewBlockTable(),
		attrFlags:  cfg.attrFlags,
		names:      make(map[string]string),
		dataEnd:    uint64(cfg.version.HeaderSize()),
		listfile:   cfg.listfile,
		attributes: cfg.attributes,
		dirty:      true,
	}
	if cfg.userData != nil {
		if err := m.writeUserData(cfg.userData); err != nil {
			return nil, err
		}
	}
	m.log().Debug("archive created",
		"path", path,
		"version", cfg.version.String(),
		"hash_entries", cfg.hashTableSize,
		"sector_size", m.header.SectorSize(),
	)
	return m, nil
}

// writeUserData writes the user-data block at the start of the file and
// moves the header to the next aligned offset after it.
func (m *Mutable) writeUserData(data []byte) error {
	size, err := sizing.ToUint32(len(data), ErrSizeOverflow)
	if err != nil {
		return fmt.Errorf("user data: %w", err)
	}
	headerAt := (16 + size + format.HeaderAlignment - 1) &^ (format.HeaderAlignment - 1)
	ud := format.UserData{
		UserDataSize:       size,
		HeaderOffset:       headerAt,
		UserDataHeaderSize: size,
		Data:               data,
	}
	raw, err := ud.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := m.file.WriteAt(raw, 0); err != nil {
		return fmt.Errorf("%w: write user data: %w", ErrIO, err)
	}
	m.userDataAt = 0
	m.base = int64(headerAt)
	return nil
}
