// Package ingest turns push records from a repository's push log into stored
// changesets and pushes.
//
// Engine.IngestPushes mirrors the repository, resolves every referenced
// revision through the VCS (parents before children, with an explicit work
// stack so long linear histories never grow the Go stack), and commits each
// push in its own transaction. Re-ingesting the same records is a no-op.
// Ingestion of one repository is serialized through a Locker; different
// repositories may be ingested concurrently.
package ingest
