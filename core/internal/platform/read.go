// Package platform opens files for directory import without following
// symbolic links.
package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/meigma/mpq/core/internal/mpqtype"
	"github.com/meigma/mpq/core/internal/sizing"
)

// ErrSymlink is returned when attempting to open a symbolic link.
var ErrSymlink = errors.New("symbolic links not supported")

// ReadFileNoFollow reads a regular file below root. Files larger than
// maxSize fail with mpqtype.ErrSizeOverflow.
func ReadFileNoFollow(root *os.Root, name string, maxSize uint64) ([]byte, fs.FileInfo, error) {
	f, err := OpenFileNoFollow(root, name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%s: not a regular file", name)
	}
	data, err := sizing.ReadAllWithLimit(f, maxSize, mpqtype.ErrSizeOverflow)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return data, info, nil
}
