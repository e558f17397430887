// Package fs is a small filesystem seam for the local snapshot store.
//
// [LocalFS] forwards to the os package. [FaultyFS] wraps any FileSystem and
// fails writes, syncs, closes or renames of matching files so tests can
// check that a failed snapshot write never replaces a good one.
package fs
