// Package ingest drives a batch of raw files into a data repository.
//
// For each input the driver extracts metadata, applies the exclusion
// policy, resolves the destination, transports the file and registers one
// row per extension. All rows of a batch go into one registry session that
// is published only if the whole batch succeeds; the visit table is
// refreshed once, after the last file.
//
// Per-file failures are skipped with a warning unless the driver is strict.
// Registry and configuration errors always abort the run.
package ingest
