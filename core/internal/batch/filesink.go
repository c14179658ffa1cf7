package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSink writes extracted files below a destination directory.
//
// By default, files are written to a temporary file in the same directory
// and renamed to the final path on Commit, so partially written files are
// never visible at the final path. Archive names that do not form a valid
// relative path are skipped.
type FileSink struct {
	destDir       string
	overwrite     bool
	preserveTimes bool
	directWrite   bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveTimes applies the modification times recorded in (attributes).
// Entries without a recorded time keep the current time.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// WithDirectWrites disables temp files and writes directly to the final path.
func WithDirectWrites(enabled bool) FileSinkOption {
	return func(s *FileSink) {
		s.directWrite = enabled
	}
}

// NewFileSink creates a FileSink that writes to destDir.
// Parent directories are created automatically as needed.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess returns false for names that cannot be mapped below the
// destination, and for existing files unless overwrite is enabled.
func (s *FileSink) ShouldProcess(entry *Entry) bool {
	p := entry.Path()
	if p == "" {
		return false
	}
	if s.overwrite {
		return true
	}
	_, err := os.Stat(filepath.Join(s.destDir, filepath.FromSlash(p)))
	return errors.Is(err, fs.ErrNotExist)
}

// Writer returns a Committer for the entry's destination file.
func (s *FileSink) Writer(entry *Entry) (Committer, error) {
	p := entry.Path()
	if p == "" {
		return nil, &fs.PathError{Op: "extract", Path: entry.Name, Err: fs.ErrInvalid}
	}
	destRel := filepath.FromSlash(p)

	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	if err := root.MkdirAll(filepath.Dir(destRel), 0o750); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create directory for %s: %w", p, err)
	}

	c := &fileCommitter{entry: entry, destRel: destRel, root: root, sink: s}
	if s.directWrite {
		c.file, err = root.OpenFile(destRel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		c.fileRel = destRel
	} else {
		c.file, c.fileRel, err = createTempFile(root, filepath.Dir(destRel), ".mpq-")
	}
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create file for %s: %w", p, err)
	}
	return c, nil
}

// fileCommitter writes to fileRel and, for temp files, renames it to destRel
// on Commit.
type fileCommitter struct {
	entry   *Entry
	destRel string
	fileRel string
	file    *os.File
	root    *os.Root
	sink    *FileSink
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit closes the file, applies the modification time and moves it into
// place.
func (c *fileCommitter) Commit() error {
	if err := c.file.Close(); err != nil {
		return c.abort(fmt.Errorf("close file: %w", err))
	}

	if c.sink.preserveTimes && !c.entry.ModTime.IsZero() {
		if err := c.root.Chtimes(c.fileRel, c.entry.ModTime, c.entry.ModTime); err != nil {
			return c.abort(fmt.Errorf("chtimes: %w", err))
		}
	}

	if c.fileRel != c.destRel {
		if err := c.root.Rename(c.fileRel, c.destRel); err != nil {
			return c.abort(fmt.Errorf("rename to %s: %w", c.destRel, err))
		}
	}
	return c.root.Close()
}

// Discard closes and removes the file.
func (c *fileCommitter) Discard() error {
	_ = c.file.Close() //nolint:errcheck // we're cleaning up
	if err := c.root.Remove(c.fileRel); err != nil {
		_ = c.root.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.root.Close()
}

func (c *fileCommitter) abort(err error) error {
	_ = c.root.Remove(c.fileRel) //nolint:errcheck // best-effort cleanup
	_ = c.root.Close()           //nolint:errcheck // best-effort cleanup
	return err
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
