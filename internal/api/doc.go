// Package api defines wire-format types and converters for the HTTP API and
// the CLI's JSON output. It translates store, resolver and page models into
// transport-friendly DTOs so consumers can render them without coupling to
// internal types.
//
// # Key Types
//
// Push/PushPage: annotated pushes with changesets, sign-offs, build run and
// the sign-off suggestion.
//
// FlagsResponse: effective flags per app version and locale, including the
// app version a fallback result was inherited from.
//
// Signoff/Action/TransitionResponse: sign-off state and its append-only log.
//
// # Service
//
// Service wraps the ingestion engine, sign-off state machine, resolver and page
// builder behind DTO-returning methods shared by the daemon's HTTP handlers
// and the CLI.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Flags are exposed as lowercase strings.
// Timestamps use RFC3339 with milliseconds; request timestamps accept any
// RFC3339 form.
package api
