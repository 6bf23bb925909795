// Package config loads, normalizes, and validates l10nboard configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// L10NBOARD_DATABASE_DSN and L10NBOARD_REDIS_ADDR. The Config type centralizes
// every knob the daemon and CLI need, so mirror directories, database
// backends, and push log polling are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
