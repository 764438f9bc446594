// Package sqlite implements the backend capability on SQLite files.
//
// Each database name maps to one file, <dir>/<escaped name>.sqlite. The
// schema version lives in PRAGMA user_version. Collections are recorded in
// a catalog table and stored one table each:
//
//	CREATE TABLE "c_<name>" (rec_key PRIMARY KEY NOT NULL, body TEXT NOT NULL) WITHOUT ROWID
//
// rec_key has no declared type, so SQLite keeps the bound value's storage
// class: integer and text keys stay distinct and ORDER BY puts numbers
// before strings.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - _txlock=immediate: Write transactions take the write lock at BEGIN
//
// Read transactions run on a dedicated connection under BEGIN DEFERRED so
// they do not take the write lock.
package sqlite
