// Package pushview pages through a locale's pushes for an app version and
// annotates each push with its changesets, sign-offs and matching build run.
package pushview
