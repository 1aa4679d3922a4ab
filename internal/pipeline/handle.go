package pipeline

import (
	"context"
	"time"

	"github.com/five82/c8yview/internal/entity"
)

// View is the type-erased read side of a pipeline, as the tree view needs it.
type View struct {
	Name                string
	Title               string
	Seq                 uint64
	Nodes               []entity.Node
	Enabled             bool
	Phase               Phase
	PublishedAt         time.Time
	LastAttempt         time.Time
	LastError           error
	ConsecutiveFailures int
}

// Offline reports whether the remote has failed several cycles in a row.
func (v View) Offline() bool { return v.ConsecutiveFailures >= 2 }

// Handle lets callers drive and read pipelines of any record type.
type Handle interface {
	Name() string
	Title() string
	Kind() entity.Kind
	Namespace() string
	Refresh(ctx context.Context) Result
	View() View
	Lookup(key string) (entity.Node, bool)
	MirrorStale(key string) bool
	Phase() Phase
	Subscribe(fn func()) (cancel func())
	Watch(ctx context.Context) <-chan struct{}
}

var _ Handle = (*Pipeline[entity.AlarmRecord, entity.Alarm])(nil)

func (p *Pipeline[R, E]) Name() string      { return p.spec.Name }
func (p *Pipeline[R, E]) Title() string     { return p.spec.Title }
func (p *Pipeline[R, E]) Kind() entity.Kind { return p.spec.Kind }
func (p *Pipeline[R, E]) Namespace() string { return p.spec.Namespace }
func (p *Pipeline[R, E]) Phase() Phase      { return Phase(p.phase.Load()) }

// Subscribe registers fn to run synchronously after every cycle.
func (p *Pipeline[R, E]) Subscribe(fn func()) (cancel func()) {
	return p.notifier.Subscribe(fn)
}

// Watch returns a channel signalled after every cycle until ctx is done.
func (p *Pipeline[R, E]) Watch(ctx context.Context) <-chan struct{} {
	return p.notifier.Watch(ctx)
}

// View returns the current generation as plain nodes.
func (p *Pipeline[R, E]) View() View {
	snap := p.cache.Snapshot()
	nodes := make([]entity.Node, 0, len(snap.Generation.Entities))
	for _, e := range snap.Generation.Entities {
		nodes = append(nodes, e)
	}
	return View{
		Name:                p.spec.Name,
		Title:               p.spec.Title,
		Seq:                 snap.Generation.Seq,
		Nodes:               nodes,
		Enabled:             snap.Enabled,
		Phase:               p.Phase(),
		PublishedAt:         snap.Generation.PublishedAt,
		LastAttempt:         snap.LastAttempt,
		LastError:           snap.LastError,
		ConsecutiveFailures: snap.ConsecutiveFailures,
	}
}

// Lookup finds the entity with key in the current generation.
func (p *Pipeline[R, E]) Lookup(key string) (entity.Node, bool) {
	for _, e := range p.cache.Snapshot().Generation.Entities {
		if e.Key() == key {
			return e, true
		}
	}
	return nil, false
}
