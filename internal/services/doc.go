// Package services defines shared utilities consumed by the ingestion,
// sign-off, and resolution components.
//
// Key responsibilities:
//   - Context helpers that stamp repository names, app version codes, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let transports
//     classify failures (validation vs conflict vs upstream) without string
//     matching.
//
// Use these helpers when wiring new component logic so operational behaviour
// (error handling, observability, retries) stays uniform across the service.
package services
