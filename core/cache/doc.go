// Package cache stores decoded archive files so repeated reads skip sector
// decryption and decompression.
//
// Keys are opaque byte strings derived by the archive from the file's
// location and decoding parameters (source, block position, sizes, flags and
// file key). Two archives opened from the same source share cache entries.
package cache
