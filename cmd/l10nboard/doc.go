// Command l10nboard is the operator CLI for the localization release
// dashboard.
//
// Setup commands (locale, forest, repo, tree, appversion) and the sign-off
// commands work directly against the configured database. `l10nboard daemon`
// runs the long-lived process that polls push logs and serves the HTTP API,
// and `l10nboard status` queries that API.
package main
