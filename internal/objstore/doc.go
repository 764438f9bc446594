// Package objstore provides an accessor over one collection of a versioned
// local database.
//
// An Accessor performs create, read, read-all, update and delete against the
// collection and keeps an in-memory mirror of it for synchronous reads. The
// mirror changes only as the result of the accessor's own successful
// operations:
//
//	Add     appends the new record
//	Update  replaces the entry with the same key, or appends
//	Remove  drops the entry with the key
//	GetAll  replaces the mirror with the collection contents
//
// Each operation resolves a fresh store handle and closes it afterwards.
// Resolution probes the stored schema version, opens at the higher of the
// stored and configured versions, and upgrades once more when the
// collection is missing. The stored version never decreases.
//
// Every failure is returned to the caller as an *Error and also recorded as
// the accessor's error state, read with Err. The last failure wins; success
// does not clear it.
package objstore
