// Package schema describes the registry catalog: the configured file table,
// its derived visit table, and the typed scalar values stored in them.
//
// This package contains type definitions and validation only. The registry,
// parse and ingest packages import schema; schema imports nothing internal.
//
// Key constraints:
//   - Column types are limited to text, integer and real
//   - Table and column names must be plain SQL identifiers, so they can be
//     interpolated into statements after validation
//   - "id" is reserved for the identity column of the file table
//   - Unique, visit and visit-key columns must all name configured columns
package schema
