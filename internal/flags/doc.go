// Package flags computes effective sign-off flags per app version and locale,
// following app version fallback chains.
//
// A locale's own actions always win. When an app version has no data for a
// locale, only an ACCEPTED flag of its fallback (itself possibly inherited) is
// carried over, tagged with the app version it came from.
package flags
