// Package state provides the synchronized entity cache for one remote collection.
//
// # Overview
//
// A Cache holds the latest published Generation of entities for a single
// collection (EPL applications, alarms, ...). The refresh pipeline is the only
// writer; the tree view, the action router and the CLI are readers.
//
//	Writer (pipeline):              Readers (UI, router):
//	┌──────────────────┐            ┌───────────────────┐
//	│ fetch + map      │            │                   │
//	│      ↓           │            │                   │
//	│ cache.Publish()  │──────────→ │ cache.Snapshot()  │
//	│      ↓           │  (atomic   │      ↓            │
//	│ notifier.Fire()  │   pointer) │ render tree       │
//	└──────────────────┘            └───────────────────┘
//
// # Generations
//
// Every Publish or Clear builds a complete new Snapshot and stores it with a
// single atomic pointer swap, so a reader sees either the previous list or the
// new one, never a partially built list. Generation.Seq increases by one per
// swap. Entities keep the order the remote returned them in.
//
// No entity survives across generations by identity: a generation is a full
// replacement, not a merge.
//
// # Update Semantics
//
//	// Successful cycle: replace the list
//	cache.Publish(entities)
//	→ Generation = {Seq+1, entities}
//	→ LastError = nil, ConsecutiveFailures = 0
//
//	// Collection disabled: replace with an empty list
//	cache.Clear()
//	→ Generation = {Seq+1, nil}, Enabled = false
//
//	// Failed cycle: keep the list, record the error
//	cache.RecordFailure(err)
//	→ Generation = <unchanged>
//	→ LastError = err, ConsecutiveFailures++
//
// Readers keep the last good generation; LastError says it is stale.
//
// # Copies
//
// Publish copies the slice it is given and Snapshot hands out copies, so
// neither the pipeline nor a reader can mutate a published generation.
// Entities themselves are immutable values.
//
// # Concurrency Model
//
// Writers serialize on a mutex (the pipeline already runs one cycle at a time,
// the mutex only guards read-modify-write of the failure counter). Readers never
// take the mutex; Snapshot is a pointer load plus a slice copy.
//
// The zero value is ready to use:
//
//	var cache state.Cache[entity.Alarm]
//	snap := cache.Snapshot() // empty, Seq 0
package state
