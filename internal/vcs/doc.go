// Package vcs wraps the Mercurial command line used to mirror localization
// repositories and read changeset metadata from them.
//
// Client runs individual hg commands through an injectable Executor so tests
// never shell out. Mirrors keeps one local clone per repository, seeding
// fresh clones from sibling repositories that share fork ancestry, and
// rebuilds a mirror from scratch at most once before reporting the failure.
package vcs
