// Package signoff implements the sign-off approval state machine.
//
// A sign-off proposes shipping one push for a locale of an app version. Its
// status is the flag of its highest-sequence action; actions are only ever
// appended. Every mutation runs in a transaction that re-reads the latest
// action under a row lock (PostgreSQL) or an immediate transaction (SQLite),
// checks the transition, and appends with the next sequence number, so
// concurrent reviewers observe a total order. A writer that loses a race
// receives services.ErrConflict.
//
//	PENDING  -> ACCEPTED | REJECTED | CANCELED
//	CANCELED -> PENDING
//	any      -> OBSOLETED (bulk)
package signoff
