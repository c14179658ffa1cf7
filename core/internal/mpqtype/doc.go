// Package mpqtype holds the sentinel errors and progress types shared by the
// archive engine and its internal packages.
package mpqtype
