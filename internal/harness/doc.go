// Package harness runs YAML scenarios against a record accessor.
//
// # Scenario Format
//
//	name: todo_lifecycle
//	description: "Add, read, update and remove one todo"
//	database: TodoApp
//	collection: todos
//	steps:
//	  - op: add
//	    record: { id: "1", title: Learn, completed: false }
//	  - op: get
//	    id: "1"
//	    expect:
//	      record: { id: "1", title: Learn, completed: false }
//	  - op: add
//	    record: { id: "1", title: again }
//	    expect: { error: constraint }
//	  - parallel:
//	      - op: add
//	        record: { id: "2" }
//	      - op: add
//	        record: { id: "3" }
//	assertions:
//	  - type: mirror_count
//	    count: 3
//	  - type: error_state
//	    error: constraint
//
// Steps without an expect clause must succeed. Parallel groups run through
// an errgroup; their trace entries keep declaration order so golden output
// stays deterministic as long as the grouped calls touch distinct keys.
//
// # Assertion Types
//
//   - mirror_count: number of mirrored records
//   - mirror_contains: the mirror holds id, optionally equal to record
//   - mirror_absent: the mirror does not hold id
//   - store_count: number of records in the collection, read through the factory
//   - error_state: kind of the accessor's last error, or none
//
// # Golden Traces
//
// Each step adds one trace event (seq, op, key, outcome, and the record for
// a successful get or the count for get_all). Snapshot renders the trace as
// canonical JSON for goldie comparison.
//
// Run uses a fresh in-memory factory per scenario; RunWithFactory runs on
// any backend.
package harness
