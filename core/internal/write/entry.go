package write

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ResolveEntry returns the file info of a walked entry. Symlinks and
// anything that is not a regular file report ok=false.
func ResolveEntry(root *os.Root, path string, d fs.DirEntry) (info fs.FileInfo, ok bool, err error) {
	if d.Type()&fs.ModeSymlink != 0 || d.IsDir() {
		return nil, false, nil
	}
	info, err = root.Lstat(filepath.FromSlash(path))
	if err != nil {
		return nil, false, err
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}
	return info, true, nil
}

// CheckUnchanged fails when the size or modification time of path differs
// from before, which means the file was written to while it was read.
func CheckUnchanged(path string, before, after fs.FileInfo) error {
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		return fmt.Errorf("file changed while being added: %s", path)
	}
	return nil
}

// ArchiveName maps a slash-separated walk path below prefix to an archive
// name with "\" separators. An empty prefix adds nothing.
func ArchiveName(prefix, path string) string {
	name := strings.ReplaceAll(path, "/", `\`)
	prefix = strings.Trim(strings.ReplaceAll(prefix, "/", `\`), `\`)
	if prefix == "" {
		return name
	}
	return prefix + `\` + name
}
