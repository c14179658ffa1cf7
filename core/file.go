package mpq

import (
	"bytes"
	"io"
	"io/fs"
	"time"

	"github.com/meigma/mpq/core/internal/crypto"
	"github.com/meigma/mpq/core/internal/tables"
	"github.com/meigma/mpq/core/metrics"
)

// FileInfo describes a resolved archive entry.
type FileInfo struct {
	// Name is the archive name, with "\" separators.
	Name string

	// HashIndex is the hash table slot, or -1 when the name was resolved
	// through the HET table.
	HashIndex int

	// BlockIndex is the index into the block table.
	BlockIndex uint32

	Locale   uint16
	Platform uint16

	// FilePos is the payload position relative to the archive header.
	FilePos        uint64
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

// Encrypted reports whether the payload is encrypted.
func (fi FileInfo) Encrypted() bool { return fi.Flags&tables.FlagEncrypted != 0 }

// Compressed reports whether the payload is compressed or imploded.
func (fi FileInfo) Compressed() bool { return fi.Flags&tables.FlagCompressMask != 0 }

// DeleteMarker reports whether the entry marks the name as deleted in a
// patch archive.
func (fi FileInfo) DeleteMarker() bool { return fi.Flags&tables.FlagDeleteMarker != 0 }

// PatchFile reports whether the entry holds a binary-diff patch.
func (fi FileInfo) PatchFile() bool { return fi.Flags&tables.FlagPatchFile != 0 }

func (loc location) info() FileInfo {
	return FileInfo{
		Name:           loc.name,
		HashIndex:      loc.slot,
		BlockIndex:     loc.blockIndex,
		Locale:         loc.locale,
		Platform:       loc.platform,
		FilePos:        loc.block.FilePos,
		CompressedSize: loc.block.CompressedSize,
		FileSize:       loc.block.FileSize,
		Flags:          loc.block.Flags,
	}
}

// FindFile resolves name, preferring the neutral locale. Delete markers and
// patch files are returned like any other entry; inspect the flags.
func (a *Archive) FindFile(name string) (FileInfo, error) {
	loc, err := a.resolve(name, tables.LocaleNeutral, true)
	if err != nil {
		return FileInfo{}, err
	}
	return loc.info(), nil
}

// ReadFile returns the contents of name, preferring the neutral locale.
//
// Both "\" and "/" are accepted as separators. This also satisfies
// fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	loc, err := a.resolve(name, tables.LocaleNeutral, true)
	if err != nil {
		a.metrics.RecordRead(metrics.ResultNotFound, 0, 0)
		return nil, err
	}
	return a.content(loc)
}

// ReadFileLocale returns the contents of name stored under locale.
func (a *Archive) ReadFileLocale(name string, locale uint16) ([]byte, error) {
	loc, err := a.resolve(name, locale, false)
	if err != nil {
		a.metrics.RecordRead(metrics.ResultNotFound, 0, 0)
		return nil, err
	}
	return a.content(loc)
}

// ReadFileReport reads name bypassing the cache and returns the sector
// checksum findings alongside the contents.
func (a *Archive) ReadFileReport(name string) ([]byte, Report, error) {
	loc, err := a.resolve(name, tables.LocaleNeutral, true)
	if err != nil {
		return nil, Report{}, err
	}
	return a.decode(a.source, loc, a.strictCRC)
}

// Open implements fs.FS. The file contents are decoded when the file is
// opened.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	loc, err := a.resolve(name, tables.LocaleNeutral, true)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	data, err := a.content(loc)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &File{
		Reader: bytes.NewReader(data),
		info:   a.stat(loc),
	}, nil
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	loc, err := a.resolve(name, tables.LocaleNeutral, true)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return a.stat(loc), nil
}

// stat builds the fs.FileInfo of loc. The modification time comes from
// (attributes) when the archive records one.
func (a *Archive) stat(loc location) *fileStat {
	st := &fileStat{
		name: crypto.BaseName(loc.name),
		size: int64(loc.block.FileSize),
		info: loc.info(),
	}
	if attrs, err := a.Attributes(); err == nil && int(loc.blockIndex) < len(attrs.Files) {
		st.modTime = attrs.Files[loc.blockIndex].ModTime()
	}
	return st
}

// File is an open archive file. It supports random access through ReadAt
// and Seek.
type File struct {
	*bytes.Reader
	info *fileStat
}

// Stat returns the file's metadata.
func (f *File) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

// Close releases the decoded contents.
func (f *File) Close() error {
	f.Reader = bytes.NewReader(nil)
	return nil
}

// fileStat implements fs.FileInfo for archive entries.
type fileStat struct {
	name    string
	size    int64
	modTime time.Time
	info    FileInfo
}

func (s *fileStat) Name() string       { return s.name }
func (s *fileStat) Size() int64        { return s.size }
func (s *fileStat) Mode() fs.FileMode  { return 0o444 }
func (s *fileStat) ModTime() time.Time { return s.modTime }
func (s *fileStat) IsDir() bool        { return false }

// Sys returns the FileInfo of the entry.
func (s *fileStat) Sys() any { return s.info }

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.File       = (*File)(nil)
	_ io.ReaderAt   = (*File)(nil)
	_ io.Seeker     = (*File)(nil)
)
