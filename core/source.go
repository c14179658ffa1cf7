package mpq

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"
)

// ByteSource provides random access to archive bytes.
//
// Implementations exist for local files, memory-mapped files and HTTP range
// requests. SourceID must return a stable identifier for the underlying
// content; it keys the decoded-file cache.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat archive: %w", ErrIO, err)
	}
	return &fileSource{
		file:     f,
		size:     info.Size(),
		sourceID: fileSourceID("file", f.Name(), info),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (s *fileSource) Size() int64 {
	return s.size
}

// SourceID returns a stable identifier for the file content.
func (s *fileSource) SourceID() string {
	return s.sourceID
}

// mmapSource serves reads from a read-only memory mapping.
type mmapSource struct {
	r        *mmap.ReaderAt
	sourceID string
}

// ReadAt implements io.ReaderAt.
func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

// Size returns the mapped length.
func (s *mmapSource) Size() int64 {
	return int64(s.r.Len())
}

// SourceID returns a stable identifier for the file content.
func (s *mmapSource) SourceID() string {
	return s.sourceID
}

// Close unmaps the file.
func (s *mmapSource) Close() error {
	return s.r.Close()
}

func fileSourceID(kind, path string, info os.FileInfo) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return fmt.Sprintf("%s:%s:%d:%d", kind, absPath, info.Size(), info.ModTime().UnixNano())
}

// Open opens the archive at path for reading. The returned Archive owns the
// file handle and must be closed.
func Open(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %w", ErrIO, err)
	}
	src, err := newFileSource(f)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	a, err := newArchive(src, f, opts)
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return a, nil
}

// OpenMmap opens the archive at path through a read-only memory mapping.
// The returned Archive owns the mapping and must be closed.
func OpenMmap(path string, opts ...Option) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat archive: %w", ErrIO, err)
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: map archive: %w", ErrIO, err)
	}
	src := &mmapSource{r: r, sourceID: fileSourceID("mmap", path, info)}
	a, err := newArchive(src, src, opts)
	if err != nil {
		_ = src.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	return a, nil
}

// OpenSource opens an archive served by src. Closing the Archive does not
// close src.
func OpenSource(src ByteSource, opts ...Option) (*Archive, error) {
	return newArchive(src, nil, opts)
}

// Interface compliance.
var (
	_ ByteSource = (*fileSource)(nil)
	_ ByteSource = (*mmapSource)(nil)
)
