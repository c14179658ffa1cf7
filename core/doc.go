// Package mpq reads and writes MPQ archives.
//
// An archive is a single file holding many named files. Each file is
// located through a hash table of name hashes and a block table describing
// where its payload lives, with optional per-sector compression, encryption
// and checksums. Version 3 and 4 archives may additionally carry the compact
// HET/BET tables, which are consulted before the classic tables.
//
// Archive is an immutable read handle. It is safe for concurrent use and
// implements fs.FS, fs.StatFS and fs.ReadFileFS, mapping "/" in paths to the
// "\" separator archives use internally. Mutable adds, removes and renames
// files and commits the new tables on Flush or Close.
package mpq
