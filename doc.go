// Package mpq reads, writes and layers MPQ archives.
//
// An MPQ archive is a single file holding many named files, located through
// a hash table of name hashes and a block table of payload positions. Files
// may be compressed per sector, encrypted and checksummed. This package
// re-exports the engine from [github.com/meigma/mpq/core]; use
// [github.com/meigma/mpq/chain] to resolve names across a base archive and
// its patches.
//
// # Reading
//
//	a, err := mpq.Open("war3.mpq")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	data, err := a.ReadFile(`units\human\footman.mdx`)
//
// Archive implements fs.FS, so "/" separators work with the standard
// library as well:
//
//	data, err := fs.ReadFile(a, "units/human/footman.mdx")
//
// # Writing
//
//	m, err := mpq.Create("map.w3x", mpq.WithVersion(mpq.V2))
//	if err != nil {
//	    return err
//	}
//	_ = m.AddFile("war3map.j", script, mpq.WithCompression(mpq.CompressZlib))
//	_ = m.AddFile("secret.txt", data, mpq.WithEncryption(true))
//	err = m.Close()
//
// Changes are committed on Flush or Close. Rebuild and Mutable.Compact
// reclaim the space of removed files.
//
// # Remote archives
//
// Any io.ReaderAt with a size and a stable identity can back an archive.
// The [github.com/meigma/mpq/core/http] package serves archives over HTTP
// range requests, and [WithCache] keeps decoded files in memory or on disk.
package mpq
