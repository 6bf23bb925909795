// Package pushlog reads push records from a Mercurial server's json-pushes
// endpoint so new pushes can be ingested without an inbound hook.
package pushlog
