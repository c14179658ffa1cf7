// Package write holds helpers for importing directory trees into an
// archive.
package write
