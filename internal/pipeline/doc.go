// Package pipeline keeps one in-memory cache per monitored collection.
//
// A cycle reads a configuration snapshot, fetches the remote collection,
// maps each record to an entity (skipping malformed ones), mirrors EPL
// applications to disk, swaps the new generation in and fires the
// collection's notifier exactly once. A failed fetch leaves the previous
// generation in place. Concurrent refresh requests for one collection are
// coalesced into at most one pending re-run.
package pipeline
