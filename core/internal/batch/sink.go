package batch

import (
	"io"
	"io/fs"
	"strings"
	"time"
)

// Entry is one archive file scheduled for batch processing.
type Entry struct {
	// Name is the archive name, with backslash separators.
	Name string

	// Block is the block table index the name resolves to.
	Block uint32

	// Offset is the absolute position of the stored bytes in the source.
	Offset int64

	// StoredSize is the number of bytes the file occupies in the source.
	StoredSize uint64

	// FileSize is the decoded size.
	FileSize uint64

	// ModTime comes from (attributes) when present, and is zero otherwise.
	ModTime time.Time
}

// Path returns Name with forward slashes, or "" when the result is not a
// valid fs path (absolute, containing "..", and so on).
func (e *Entry) Path() string {
	p := strings.ReplaceAll(e.Name, `\`, "/")
	if !fs.ValidPath(p) {
		return ""
	}
	return p
}

// end returns the position one past the stored bytes.
func (e *Entry) end() int64 {
	return e.Offset + int64(e.StoredSize) //nolint:gosec // bounded by the source size
}

// Sink receives decoded file content during batch processing.
//
// Implementations determine where content goes (a directory, a cache, or
// nowhere for verification) and can filter which entries to process.
type Sink interface {
	// ShouldProcess returns false if this entry should be skipped.
	ShouldProcess(entry *Entry) bool

	// Writer returns a writer for the entry's content. The caller writes the
	// decoded bytes and then calls Commit, or Discard on any error.
	Writer(entry *Entry) (Committer, error)
}

// BufferedSink accepts decoded content without a copy through a writer.
//
// Implementations should not mutate the content slice.
type BufferedSink interface {
	PutBuffered(entry *Entry, content []byte) error
}

// Committer is a writer that can be committed or discarded.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}

// DiscardSink accepts every entry and drops its content. Running a Processor
// into it decodes and checks each file without writing anything.
type DiscardSink struct{}

// ShouldProcess always returns true.
func (DiscardSink) ShouldProcess(*Entry) bool { return true }

// Writer returns a Committer that drops writes.
func (DiscardSink) Writer(*Entry) (Committer, error) { return discardCommitter{}, nil }

// PutBuffered drops content.
func (DiscardSink) PutBuffered(*Entry, []byte) error { return nil }

type discardCommitter struct{}

func (discardCommitter) Write(p []byte) (int, error) { return len(p), nil }
func (discardCommitter) Commit() error               { return nil }
func (discardCommitter) Discard() error              { return nil }
