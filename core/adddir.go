package mpq

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/meigma/mpq/core/internal/platform"
	"github.com/meigma/mpq/core/internal/special"
	"github.com/meigma/mpq/core/internal/write"
)

// DirOption configures AddDir.
type DirOption func(*dirConfig)

type dirConfig struct {
	prefix string
	add    []AddOption
	skip   []write.SkipCompressionFunc
}

// SkipCompressionFunc reports whether a file should be stored without
// compression.
type SkipCompressionFunc = write.SkipCompressionFunc

// DefaultSkipCompression skips files smaller than minSize and files with
// already-compressed extensions such as .ogg, .mp3 or nested .mpq.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return write.DefaultSkipCompression(minSize)
}

// WithPrefix stores every file below prefix inside the archive.
func WithPrefix(prefix string) DirOption {
	return func(c *dirConfig) {
		c.prefix = prefix
	}
}

// WithAddOptions applies opts to every added file.
func WithAddOptions(opts ...AddOption) DirOption {
	return func(c *dirConfig) {
		c.add = append(c.add, opts...)
	}
}

// WithSkipCompression stores files matched by any of fns uncompressed.
func WithSkipCompression(fns ...SkipCompressionFunc) DirOption {
	return func(c *dirConfig) {
		c.skip = append(c.skip, fns...)
	}
}

// AddDir adds every regular file below dir, in walk order. Symbolic links
// and other special files are skipped. The modification time of each file
// is recorded in (attributes). It returns the number of files added.
func (m *Mutable) AddDir(ctx context.Context, dir string, opts ...DirOption) (int, error) {
	var cfg dirConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrIO, dir, err)
	}
	defer root.Close()

	m.log().Info("adding directory", "dir", dir, "prefix", cfg.prefix)
	m.report(ProgressEvent{Stage: StageEnumerating})

	var added int
	var bytesDone uint64
	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, ok, err := write.ResolveEntry(root, path, d)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		data, after, err := platform.ReadFileNoFollow(root, filepath.FromSlash(path), math.MaxUint32)
		if errors.Is(err, platform.ErrSymlink) {
			m.log().Debug("skipped symlink", "path", path)
			return nil
		}
		if err != nil {
			return err
		}
		if err := write.CheckUnchanged(path, info, after); err != nil {
			return err
		}

		name := write.ArchiveName(cfg.prefix, path)
		if special.IsReserved(name) {
			m.log().Debug("skipped reserved name", "path", path)
			return nil
		}
		fileOpts := append([]AddOption{WithModTime(after.ModTime())}, cfg.add...)
		if write.ShouldSkip(path, after, cfg.skip) {
			fileOpts = append(fileOpts, WithCompression(0))
		}
		if err := m.AddFile(name, data, fileOpts...); err != nil {
			return err
		}
		added++
		bytesDone += uint64(len(data))
		m.report(ProgressEvent{
			Stage:     StageAdding,
			Path:      name,
			BytesDone: bytesDone,
			FilesDone: added,
		})
		return nil
	})
	if err != nil {
		return added, err
	}
	m.log().Debug("directory added", "dir", dir, "files", added, "bytes", bytesDone)
	return added, nil
}
