// Package registry owns the SQLite catalog of ingested files.
//
// The catalog holds two tables per schema: the file table (one row per
// ingested file or extension, with an auto-incrementing id) and the derived
// visit table (one row per distinct visit key).
//
// # Publish Protocol
//
// The live registry file is never written in place. Open copies it into a
// temporary file in the same directory and all changes go to that copy,
// inside a single transaction. Close(true) commits and renames the copy
// over the live path, so readers see either the old or the new catalog and
// never a partial write. Close(false) leaves the live file untouched and
// keeps the working copy on disk for diagnosis.
//
// An advisory lock on "<registry>.lock" keeps two writers from publishing
// over each other. Readers need no lock.
//
// # Database Configuration
//
//   - journal_mode=DELETE: the working copy must stay a single file to be renamed
//   - synchronous=FULL: the copy is durable before it is published
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Statements interpolate only schema-validated identifiers; values are
// always bound parameters.
package registry
