// Package store persists the changeset DAG, pushes, app versions, sign-offs,
// and build runs behind database/sql.
//
// SQLite (modernc.org/sqlite) is the default backend; PostgreSQL (lib/pq) is
// selected with database.driver = "postgres". Both share one set of queries
// written with `?` placeholders that are rebound per dialect. The schema is
// embedded and versioned through a schema_version table.
//
// Every query method lives on Queries so that callers can run the same code
// against the pool or inside Store.WithTx. Unique constraints on
// changesets.revision, pushes(repository_id, push_id) and
// actions(signoff_id, seq) carry the idempotence and ordering guarantees the
// ingestion and sign-off components rely on.
package store
