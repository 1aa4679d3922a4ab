package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/five82/c8yview/internal/c8y"
	"github.com/five82/c8yview/internal/config"
	"github.com/five82/c8yview/internal/entity"
	"github.com/five82/c8yview/internal/metrics"
	"github.com/five82/c8yview/internal/notify"
	"github.com/five82/c8yview/internal/state"
)

// Phase is the position of a pipeline in its refresh state machine.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseReconciling
	PhasePublished
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseReconciling:
		return "reconciling"
	case PhasePublished:
		return "published"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Outcome is how a refresh cycle ended.
type Outcome int

const (
	OutcomePublished Outcome = iota
	OutcomeDisabled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDisabled:
		return metrics.OutcomeDisabled
	case OutcomeFailed:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomePublished
	}
}

// Result summarizes one completed refresh cycle.
type Result struct {
	Collection     string
	Outcome        Outcome
	Seq            uint64
	Count          int
	Skipped        int
	MirrorFailures int
	Err            error
	Took           time.Duration
}

// ConfigSource hands out configuration snapshots. *config.Store implements it.
type ConfigSource interface {
	Snapshot() config.Snapshot
}

// MirrorWriter persists mirrorable entities. *mirror.Writer implements it.
type MirrorWriter interface {
	Write(node entity.Node) (string, error)
	Prune(keep []string) ([]string, error)
}

// Deps are the collaborators shared by every pipeline.
type Deps struct {
	Fetcher c8y.CollectionFetcher
	Config  ConfigSource
	Mirror  MirrorWriter // nil disables mirroring
	Log     *zap.Logger
	Metrics *metrics.Collector
}

// Spec describes one collection: where it lives and how records become nodes.
type Spec[R any, E entity.Node] struct {
	Name      string
	Title     string
	Kind      entity.Kind
	Namespace string
	Request   c8y.Request
	Map       func(rec R, raw json.RawMessage) (E, error)
	Mirror    bool
}

// Pipeline runs fetch → map → mirror → publish → notify cycles for one collection.
type Pipeline[R any, E entity.Node] struct {
	spec Spec[R, E]
	deps Deps
	log  *zap.Logger

	cache    state.Cache[E]
	notifier notify.Notifier
	phase    atomic.Int32
	stale    atomic.Pointer[map[string]struct{}]

	mu      sync.Mutex
	running bool
	pending bool
	waiters int
	rerun   chan struct{}
	last    Result
}

// New builds a pipeline for spec.
func New[R any, E entity.Node](spec Spec[R, E], deps Deps) *Pipeline[R, E] {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline[R, E]{
		spec: spec,
		deps: deps,
		log:  log.With(zap.String("collection", spec.Name)),
	}
	p.notifier.OnPanic = func(v any) {
		p.log.Error("change subscriber panicked", zap.Any("panic", v))
	}
	return p
}

// Refresh runs one cycle and returns its result. When a cycle is already in
// flight the request is coalesced into a single pending re-run, and Refresh
// returns once that re-run completes. Failures are reported in the Result,
// never as a panic or returned error.
func (p *Pipeline[R, E]) Refresh(ctx context.Context) (res Result) {
	p.mu.Lock()
	if p.running {
		p.pending = true
		if p.rerun == nil {
			p.rerun = make(chan struct{})
		}
		done := p.rerun
		p.waiters++
		p.mu.Unlock()
		<-done
		p.mu.Lock()
		defer p.mu.Unlock()
		p.waiters--
		return p.last
	}
	p.running = true
	p.mu.Unlock()

	released := false
	var detached chan struct{}
	defer func() {
		if released {
			return
		}
		r := recover()
		res = Result{
			Collection: p.spec.Name,
			Outcome:    OutcomeFailed,
			Seq:        p.cache.Snapshot().Generation.Seq,
			Err:        fmt.Errorf("refresh %s: unexpected failure: %v", p.spec.Name, r),
		}
		p.log.Error("refresh aborted", zap.Any("panic", r))
		p.release(res, detached)
	}()

	// Cycles are not cancellable once started.
	cycleCtx := context.WithoutCancel(ctx)
	res = p.cycle(cycleCtx)
	for {
		p.mu.Lock()
		p.last = res
		if !p.pending {
			p.running = false
			released = true
			p.mu.Unlock()
			return res
		}
		p.pending = false
		detached = p.rerun
		p.rerun = nil
		p.mu.Unlock()

		res = p.cycle(cycleCtx)
		p.mu.Lock()
		p.last = res
		p.mu.Unlock()
		close(detached)
		detached = nil
	}
}

// release clears the in-flight guard after an aborted run and wakes every
// caller waiting on a re-run with res.
func (p *Pipeline[R, E]) release(res Result, detached chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = res
	p.running = false
	p.pending = false
	for _, ch := range []chan struct{}{detached, p.rerun} {
		if ch != nil {
			close(ch)
		}
	}
	p.rerun = nil
}

func (p *Pipeline[R, E]) cycle(ctx context.Context) (res Result) {
	start := time.Now()
	res.Collection = p.spec.Name

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("refresh %s: unexpected failure: %v", p.spec.Name, r)
			p.cache.RecordFailure(err)
			p.phase.Store(int32(PhaseFailed))
			res = Result{Collection: p.spec.Name, Outcome: OutcomeFailed, Seq: p.cache.Snapshot().Generation.Seq, Err: err}
		}
		res.Took = time.Since(start)
		p.finish(res)
	}()

	cfg := p.deps.Config.Snapshot()
	settings := cfg.Collection(p.spec.Namespace)
	if !settings.Enabled {
		gen := p.cache.Clear()
		p.stale.Store(nil)
		p.phase.Store(int32(PhasePublished))
		return Result{Collection: p.spec.Name, Outcome: OutcomeDisabled, Seq: gen.Seq}
	}

	p.phase.Store(int32(PhaseFetching))
	ep := c8y.Endpoint{BaseURL: settings.URL, User: settings.User, Password: settings.Password}
	raws, err := p.deps.Fetcher.FetchCollection(ctx, ep, p.spec.Request)
	if err != nil {
		return p.fail(fmt.Errorf("fetch %s: %w", p.spec.Name, err))
	}

	p.phase.Store(int32(PhaseReconciling))
	entities, skipped, err := p.mapAll(raws)
	if err != nil {
		return p.fail(err)
	}
	stale := p.mirrorAll(entities, cfg.PruneMirror)

	gen := p.cache.Publish(entities)
	p.stale.Store(&stale)
	p.phase.Store(int32(PhasePublished))
	return Result{
		Collection:     p.spec.Name,
		Outcome:        OutcomePublished,
		Seq:            gen.Seq,
		Count:          len(entities),
		Skipped:        skipped,
		MirrorFailures: len(stale),
	}
}

func (p *Pipeline[R, E]) fail(err error) Result {
	p.cache.RecordFailure(err)
	p.phase.Store(int32(PhaseFailed))
	return Result{
		Collection: p.spec.Name,
		Outcome:    OutcomeFailed,
		Seq:        p.cache.Snapshot().Generation.Seq,
		Err:        err,
	}
}

// finish logs and records the cycle, then fires the change notification.
func (p *Pipeline[R, E]) finish(res Result) {
	fields := []zap.Field{
		zap.String("outcome", res.Outcome.String()),
		zap.Uint64("seq", res.Seq),
		zap.Int("count", res.Count),
		zap.Int("skipped", res.Skipped),
		zap.Duration("took", res.Took),
	}
	if res.Err != nil {
		p.log.Warn("refresh failed, keeping last good data", append(fields, zap.Error(res.Err))...)
	} else {
		p.log.Info("refresh finished", fields...)
	}
	p.deps.Metrics.RecordCycle(p.spec.Name, res.Outcome.String(), res.Count, res.Skipped, res.MirrorFailures, res.Took)
	p.notifier.Fire()
}

// mapAll decodes and maps every record. Malformed records are skipped; any
// other mapping error aborts the cycle.
func (p *Pipeline[R, E]) mapAll(raws []json.RawMessage) ([]E, int, error) {
	entities := make([]E, 0, len(raws))
	skipped := 0
	for i, raw := range raws {
		var rec R
		if err := json.Unmarshal(raw, &rec); err != nil {
			p.skip(&entity.MappingError{Index: i, Reason: "decode record", Err: err})
			skipped++
			continue
		}
		node, err := p.spec.Map(rec, raw)
		if err != nil {
			if errors.Is(err, entity.ErrHidden) {
				continue
			}
			var me *entity.MappingError
			if errors.As(err, &me) {
				me.Index = i
				p.skip(me)
				skipped++
				continue
			}
			return nil, skipped, fmt.Errorf("map %s record %d: %w", p.spec.Name, i, err)
		}
		entities = append(entities, node)
	}
	return entities, skipped, nil
}

func (p *Pipeline[R, E]) skip(err *entity.MappingError) {
	p.log.Warn("skipping record", zap.Int("index", err.Index), zap.Error(err))
}

// mirrorAll writes every entity to the mirror and returns the keys whose write
// failed. A failed write is logged; the entity is still published.
func (p *Pipeline[R, E]) mirrorAll(entities []E, prune bool) map[string]struct{} {
	failed := map[string]struct{}{}
	if !p.spec.Mirror || p.deps.Mirror == nil {
		return failed
	}
	labels := make([]string, 0, len(entities))
	for _, e := range entities {
		labels = append(labels, e.Label())
		if _, err := p.deps.Mirror.Write(e); err != nil {
			failed[e.Key()] = struct{}{}
			p.log.Warn("mirror write failed", zap.String("key", e.Key()), zap.Error(err))
		}
	}
	if prune {
		removed, err := p.deps.Mirror.Prune(labels)
		for _, path := range removed {
			p.log.Info("pruned stale mirror", zap.String("path", path))
		}
		if err != nil {
			p.log.Warn("mirror prune failed", zap.Error(err))
		}
	}
	return failed
}

// MirrorStale reports whether the mirror file for key missed the last
// published generation.
func (p *Pipeline[R, E]) MirrorStale(key string) bool {
	stale := p.stale.Load()
	if stale == nil {
		return false
	}
	_, ok := (*stale)[key]
	return ok
}

// Snapshot returns the typed cache snapshot.
func (p *Pipeline[R, E]) Snapshot() state.Snapshot[E] {
	return p.cache.Snapshot()
}

// LastResult returns the result of the most recent completed cycle.
func (p *Pipeline[R, E]) LastResult() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
