// Package notify implements the zero-payload "cache may have changed" signal.
//
// Subscribers come in two shapes. Callbacks registered with Subscribe run
// synchronously inside Fire, in registration order, so they can read the cache
// that was just swapped. Channels returned by Watch have a single slot: a fire
// that finds the slot full is folded into the pending one, which suits
// consumers like the tree view that only need to know "re-read now".
//
// Nothing is buffered for subscribers that attach after a fire.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

type callback struct {
	fn func()
}

type watcher struct {
	ch     chan struct{}
	closed atomic.Bool
}

// Notifier fans one signal out to any number of subscribers.
// The zero value is ready to use.
type Notifier struct {
	// OnPanic, when set, receives the value of a callback that panicked.
	// Later callbacks and watchers are still signalled.
	OnPanic func(v any)

	mu        sync.RWMutex
	callbacks []*callback
	watchers  map[*watcher]struct{}
	fired     atomic.Uint64
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn func()) (cancel func()) {
	cb := &callback{fn: fn}
	n.mu.Lock()
	n.callbacks = append(n.callbacks, cb)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, c := range n.callbacks {
				if c == cb {
					n.callbacks = append(n.callbacks[:i:i], n.callbacks[i+1:]...)
					return
				}
			}
		})
	}
}

// Watch returns a single-slot channel that receives a value after each fire.
// The channel is closed when ctx is done.
func (n *Notifier) Watch(ctx context.Context) <-chan struct{} {
	w := &watcher{ch: make(chan struct{}, 1)}

	n.mu.Lock()
	if n.watchers == nil {
		n.watchers = make(map[*watcher]struct{})
	}
	n.watchers[w] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, w)
		if w.closed.CompareAndSwap(false, true) {
			close(w.ch)
		}
		n.mu.Unlock()
	}()
	return w.ch
}

// Fire runs every callback, then signals every watcher without blocking.
func (n *Notifier) Fire() {
	n.fired.Add(1)

	n.mu.RLock()
	cbs := make([]*callback, len(n.callbacks))
	copy(cbs, n.callbacks)
	n.mu.RUnlock()

	for _, cb := range cbs {
		n.call(cb)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	for w := range n.watchers {
		if w.closed.Load() {
			continue
		}
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

func (n *Notifier) call(cb *callback) {
	defer func() {
		if r := recover(); r != nil && n.OnPanic != nil {
			n.OnPanic(r)
		}
	}()
	cb.fn()
}

// Fired returns how many times Fire has been called.
func (n *Notifier) Fired() uint64 {
	return n.fired.Load()
}
