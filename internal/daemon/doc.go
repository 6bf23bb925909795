// Package daemon coordinates the long-running l10nboard process.
//
// It wires the store, the ingestion scheduler, and the HTTP API into a single
// lifecycle with flock-based locking to prevent multiple instances on one data
// directory. The scheduler polls each repository's push log, resumes from the
// latest stored push id, and hands new pushes to the ingestion engine.
//
// Keep orchestration logic here: domain rules belong in ingest, signoff,
// flags, and pushview while the daemon focuses on startup, shutdown, and
// request routing.
package daemon
