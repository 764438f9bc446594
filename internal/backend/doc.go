// Package backend defines the persistent database capability the record
// accessor runs on.
//
// A Factory opens named databases at a schema version. A Database holds
// named collections, each keyed by a key path into its records. All reads
// and writes go through a transaction scoped to one collection.
//
// # Versioning
//
// Every database carries an integer schema version that never decreases:
//
//   - Open at version 0 uses the current version (1 for a new database)
//   - Open below the current version fails with ErrVersion
//   - Open above the current version runs the UpgradeFunc, which is the only
//     place collections can be created or deleted; if it fails the database
//     is left exactly as it was
//
// # Drivers
//
//   - sqlite: one SQLite file per database (default, local and persistent)
//   - memory: process-local maps, for tests and ephemeral stores
//   - redis: a shared Redis server
//
// Every driver passes the suite in package backendtest.
package backend
