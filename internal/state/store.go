package state

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Generation is one immutable published list of entities.
type Generation[E any] struct {
	Seq         uint64
	Entities    []E
	PublishedAt time.Time
}

// Snapshot represents the latest data available to readers.
type Snapshot[E any] struct {
	Generation          Generation[E]
	Enabled             bool
	LastAttempt         time.Time
	LastError           error
	ConsecutiveFailures int // Number of consecutive failed cycles
}

// Entities returns a copy of the current entity list.
func (s Snapshot[E]) Entities() []E {
	return cloneEntities(s.Generation.Entities)
}

// IsOffline returns true when the remote has been unreachable for multiple cycles.
func (s Snapshot[E]) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// Cache holds the authoritative entity list of one collection. The list is
// replaced wholesale by Publish and Clear; RecordFailure never touches it.
type Cache[E any] struct {
	current atomic.Pointer[Snapshot[E]]
	mu      sync.Mutex // serializes writers; readers only load the pointer
}

// Publish swaps in a new generation holding entities, in the given order.
func (c *Cache[E]) Publish(entities []E) Generation[E] {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.load()
	now := time.Now()
	next := &Snapshot[E]{
		Generation: Generation[E]{
			Seq:         prev.Generation.Seq + 1,
			Entities:    cloneEntities(entities),
			PublishedAt: now,
		},
		Enabled:     true,
		LastAttempt: now,
	}
	c.current.Store(next)
	return next.Generation
}

// Clear publishes an empty generation for a disabled collection.
func (c *Cache[E]) Clear() Generation[E] {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.load()
	now := time.Now()
	next := &Snapshot[E]{
		Generation:  Generation[E]{Seq: prev.Generation.Seq + 1, PublishedAt: now},
		Enabled:     false,
		LastAttempt: now,
	}
	c.current.Store(next)
	return next.Generation
}

// RecordFailure keeps the previous generation and records err for visibility.
// Failures only happen while fetching, so the collection counts as enabled.
func (c *Cache[E]) RecordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.load()
	next := prev
	next.Enabled = true
	next.LastAttempt = time.Now()
	next.LastError = err
	next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	c.current.Store(&next)
}

// Snapshot returns a copy of the current state.
func (c *Cache[E]) Snapshot() Snapshot[E] {
	snap := c.load()
	snap.Generation.Entities = cloneEntities(snap.Generation.Entities)
	if snap.LastError != nil {
		snap.LastError = fmt.Errorf("%w", snap.LastError)
	}
	return snap
}

func (c *Cache[E]) load() Snapshot[E] {
	if p := c.current.Load(); p != nil {
		return *p
	}
	return Snapshot[E]{}
}

func cloneEntities[E any](items []E) []E {
	if len(items) == 0 {
		return nil
	}
	dup := make([]E, len(items))
	copy(dup, items)
	return dup
}
