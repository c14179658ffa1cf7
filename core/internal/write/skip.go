package write

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// SkipCompressionFunc reports whether a file should be stored without
// compression. It is called once per file.
type SkipCompressionFunc func(name string, info fs.FileInfo) bool

// DefaultSkipCompression skips files smaller than minSize and files whose
// extension names an already-compressed format. Archive containers are
// included so nested archives are stored as is.
func DefaultSkipCompression(minSize int64) SkipCompressionFunc {
	return func(name string, info fs.FileInfo) bool {
		if info != nil && minSize > 0 && info.Size() < minSize {
			return true
		}
		_, ok := compressedExts[strings.ToLower(filepath.Ext(name))]
		return ok
	}
}

// ShouldSkip reports whether any predicate selects the file.
func ShouldSkip(name string, info fs.FileInfo, predicates []SkipCompressionFunc) bool {
	for _, fn := range predicates {
		if fn != nil && fn(name, info) {
			return true
		}
	}
	return false
}

var compressedExts = map[string]struct{}{
	".7z":   {},
	".blp":  {},
	".bz2":  {},
	".gz":   {},
	".jpeg": {},
	".jpg":  {},
	".mp3":  {},
	".mpq":  {},
	".ogg":  {},
	".png":  {},
	".rar":  {},
	".smk":  {},
	".w3m":  {},
	".w3x":  {},
	".xz":   {},
	".zip":  {},
}
