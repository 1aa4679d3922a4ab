package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/c8yview/internal/c8y"
	"github.com/five82/c8yview/internal/config"
	"github.com/five82/c8yview/internal/entity"
	"github.com/five82/c8yview/internal/metrics"
	"github.com/five82/c8yview/internal/mirror"
)

type fakeConfig struct {
	mu   sync.Mutex
	snap config.Snapshot
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{snap: config.Snapshot{Collections: map[string]config.Collection{
		config.NamespaceApps:       {URL: "https://tenant.example.com", User: "admin", Password: "secret", Enabled: true},
		config.NamespaceAlarms:     {Enabled: true},
		config.NamespaceAlarmTypes: {Enabled: true},
	}}}
}

func (f *fakeConfig) Snapshot() config.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeConfig) setEnabled(ns string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cols := make(map[string]config.Collection, len(f.snap.Collections))
	for k, v := range f.snap.Collections {
		cols[k] = v
	}
	c := cols[ns]
	c.Enabled = enabled
	cols[ns] = c
	f.snap.Collections = cols
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	eps   []c8y.Endpoint
	fn    func(call int) ([]json.RawMessage, error)
}

func (f *fakeFetcher) FetchCollection(_ context.Context, ep c8y.Endpoint, _ c8y.Request) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.eps = append(f.eps, ep)
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func records(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = json.RawMessage(r)
	}
	return out
}

func serve(raw ...string) func(int) ([]json.RawMessage, error) {
	return func(int) ([]json.RawMessage, error) { return records(raw...), nil }
}

type failingMirror struct {
	failFor string
	written []string
}

func (m *failingMirror) Write(node entity.Node) (string, error) {
	if node.Label() == m.failFor {
		return "", &mirror.PersistenceError{Path: node.Label(), Err: os.ErrPermission}
	}
	m.written = append(m.written, node.Label())
	return node.Label(), nil
}

func (m *failingMirror) Prune([]string) ([]string, error) { return nil, nil }

func TestRefresh_PublishesOnlyValidRecords(t *testing.T) {
	fetcher := &fakeFetcher{fn: serve(
		`{"id":"1","type":"c8y_Temp","text":"High temp","severity":"major"}`,
		`{"type":"c8y_NoID","text":"missing id"}`,
		`"not an object"`,
		`{"id":2,"type":"c8y_Door","text":"Door open","severity":"MINOR"}`,
	)}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig(), Metrics: metrics.NewCollector()})

	res := p.Refresh(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, uint64(1), res.Seq)

	view := p.View()
	require.Len(t, view.Nodes, 2)
	assert.Equal(t, "High temp", view.Nodes[0].Label())
	assert.Equal(t, "MAJOR: High temp", view.Nodes[0].Tooltip())
	assert.Equal(t, "2", view.Nodes[1].Key())
	assert.Equal(t, PhasePublished, p.Phase())
	assert.Equal(t, uint64(1), p.notifier.Fired())
}

func TestRefresh_UsesSharedCredentials(t *testing.T) {
	fetcher := &fakeFetcher{fn: serve()}
	p := AlarmTypes(Deps{Fetcher: fetcher, Config: newFakeConfig()})

	p.Refresh(context.Background())

	require.Len(t, fetcher.eps, 1)
	assert.Equal(t, c8y.Endpoint{BaseURL: "https://tenant.example.com", User: "admin", Password: "secret"}, fetcher.eps[0])
}

func TestRefresh_DisabledClearsWithoutFetching(t *testing.T) {
	cfg := newFakeConfig()
	fetcher := &fakeFetcher{fn: serve(`{"id":"1","text":"a"}`)}
	p := Alarms(Deps{Fetcher: fetcher, Config: cfg})

	require.Equal(t, 1, p.Refresh(context.Background()).Count)

	cfg.setEnabled(config.NamespaceAlarms, false)
	res := p.Refresh(context.Background())

	assert.Equal(t, OutcomeDisabled, res.Outcome)
	assert.Equal(t, 1, fetcher.callCount())
	view := p.View()
	assert.Empty(t, view.Nodes)
	assert.False(t, view.Enabled)
	assert.Equal(t, uint64(2), p.notifier.Fired())
}

func TestRefresh_ToggleRepopulates(t *testing.T) {
	cfg := newFakeConfig()
	fetcher := &fakeFetcher{fn: serve(`{"id":"1","text":"a"}`, `{"id":"2","text":"b"}`)}
	p := Alarms(Deps{Fetcher: fetcher, Config: cfg})

	p.Refresh(context.Background())
	cfg.setEnabled(config.NamespaceAlarms, false)
	p.Refresh(context.Background())
	cfg.setEnabled(config.NamespaceAlarms, true)
	res := p.Refresh(context.Background())

	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Len(t, p.View().Nodes, 2)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestRefresh_FailureKeepsLastGoodGeneration(t *testing.T) {
	unauthorized := &c8y.TransportError{Op: "fetch", URL: "https://tenant.example.com/alarm/alarms", Status: http.StatusUnauthorized}
	fetcher := &fakeFetcher{fn: func(call int) ([]json.RawMessage, error) {
		if call == 1 {
			return records(`{"id":"1","text":"a"}`, `{"id":"2","text":"b"}`), nil
		}
		return nil, unauthorized
	}}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig()})

	p.Refresh(context.Background())
	res := p.Refresh(context.Background())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	var te *c8y.TransportError
	require.ErrorAs(t, res.Err, &te)
	assert.True(t, te.Unauthorized())
	assert.Equal(t, uint64(1), res.Seq)

	view := p.View()
	assert.Len(t, view.Nodes, 2)
	assert.Equal(t, uint64(1), view.Seq)
	assert.Error(t, view.LastError)
	assert.Equal(t, PhaseFailed, view.Phase)
	assert.Equal(t, uint64(2), p.notifier.Fired(), "failures notify too")
}

func TestRefresh_FailureOnEmptyCacheStaysEmpty(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int) ([]json.RawMessage, error) {
		return nil, &c8y.TransportError{Op: "fetch", Err: errors.New("connection refused")}
	}}
	p := Applications(Deps{Fetcher: fetcher, Config: newFakeConfig()})

	p.Refresh(context.Background())
	p.Refresh(context.Background())

	view := p.View()
	assert.Empty(t, view.Nodes)
	assert.True(t, view.Enabled)
	assert.True(t, view.Offline())
}

func TestRefresh_NotifiesAfterSwap(t *testing.T) {
	fetcher := &fakeFetcher{fn: serve(`{"id":"1","text":"a"}`, `{"id":"2","text":"b"}`, `{"id":"3","text":"c"}`)}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig()})

	var seen []int
	cancel := p.Subscribe(func() { seen = append(seen, len(p.View().Nodes)) })
	defer cancel()

	p.Refresh(context.Background())

	assert.Equal(t, []int{3}, seen)
}

func TestRefresh_WatchReceivesSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Alarms(Deps{Fetcher: &fakeFetcher{fn: serve()}, Config: newFakeConfig()})
	ch := p.Watch(ctx)

	p.Refresh(context.Background())

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
}

func TestRefresh_CoalescesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(call int) ([]json.RawMessage, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return records(`{"id":"1","text":"a"}`), nil
	}}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig()})

	var wg sync.WaitGroup
	results := make([]Result, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = p.Refresh(context.Background())
	}()
	<-entered

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Refresh(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.waiters == 3
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, 2, fetcher.callCount(), "one running cycle plus one coalesced re-run")
	for _, res := range results {
		assert.Equal(t, uint64(2), res.Seq)
	}
	assert.Equal(t, uint64(2), p.notifier.Fired())
}

func TestRefresh_CancelledContextStillCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var notified atomic.Bool
	fetcher := &fakeFetcher{fn: serve(`{"id":"1"}`)}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig()})
	p.Subscribe(func() { notified.Store(true) })

	res := p.Refresh(ctx)

	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.True(t, notified.Load())
}

func TestRefresh_PanicInMappingIsAFailure(t *testing.T) {
	fetcher := &fakeFetcher{fn: serve(`{"id":"1"}`)}
	p := New(Spec[entity.AlarmRecord, entity.Alarm]{
		Name:      "broken",
		Namespace: config.NamespaceAlarms,
		Map: func(entity.AlarmRecord, json.RawMessage) (entity.Alarm, error) {
			panic("boom")
		},
	}, Deps{Fetcher: fetcher, Config: newFakeConfig()})

	res := p.Refresh(context.Background())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorContains(t, res.Err, "boom")
	assert.Equal(t, PhaseFailed, p.Phase())
	assert.Equal(t, uint64(1), p.notifier.Fired())
}

func TestRefresh_PanickingSubscriberDoesNotWedgePipeline(t *testing.T) {
	fetcher := &fakeFetcher{fn: serve(`{"id":"1","text":"a"}`)}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig()})
	var calls atomic.Int32
	p.Subscribe(func() {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})

	var first Result
	require.NotPanics(t, func() { first = p.Refresh(context.Background()) })
	assert.Equal(t, OutcomePublished, first.Outcome)

	done := make(chan Result, 1)
	go func() { done <- p.Refresh(context.Background()) }()
	select {
	case res := <-done:
		assert.Equal(t, OutcomePublished, res.Outcome)
	case <-time.After(time.Second):
		t.Fatalf("second refresh did not return, fetches=%d", fetcher.callCount())
	}
	assert.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefresh_AbortedRunReleasesGuardAndWaiters(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(call int) ([]json.RawMessage, error) {
		if call == 1 {
			<-release
		}
		return records(`{"id":"1","text":"a"}`), nil
	}}
	p := Alarms(Deps{Fetcher: fetcher, Config: newFakeConfig()})
	var fires atomic.Int32
	p.notifier.OnPanic = func(any) {
		if fires.Add(1) == 1 {
			panic("handler failed")
		}
	}
	p.Subscribe(func() { panic("boom") })

	firstDone := make(chan Result, 1)
	go func() { firstDone <- p.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, time.Millisecond)

	waiterDone := make(chan Result, 1)
	go func() { waiterDone <- p.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.waiters == 1
	}, time.Second, time.Millisecond)
	close(release)

	for _, ch := range []chan Result{firstDone, waiterDone} {
		select {
		case res := <-ch:
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.ErrorContains(t, res.Err, "handler failed")
		case <-time.After(time.Second):
			t.Fatal("refresh did not return after an aborted run")
		}
	}

	res := p.Refresh(context.Background())
	assert.Equal(t, OutcomePublished, res.Outcome)
}

func TestRefresh_UnexpectedMappingErrorAbortsCycle(t *testing.T) {
	fetcher := &fakeFetcher{fn: serve(`{"id":"1"}`)}
	p := New(Spec[entity.AlarmRecord, entity.Alarm]{
		Name:      "broken",
		Namespace: config.NamespaceAlarms,
		Map: func(entity.AlarmRecord, json.RawMessage) (entity.Alarm, error) {
			return entity.Alarm{}, errors.New("out of memory")
		},
	}, Deps{Fetcher: fetcher, Config: newFakeConfig()})

	res := p.Refresh(context.Background())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, p.View().Nodes)
}

func TestApplications_MirrorsSources(t *testing.T) {
	workspace := t.TempDir()
	w, err := mirror.NewWriter(workspace)
	require.NoError(t, err)
	fetcher := &fakeFetcher{fn: serve(
		`{"id":"10","name":"Thermostat","state":"active","contents":"monitor Thermostat {}"}`,
		`{"id":"11","name":"PYSYS_internal","state":"active","contents":"monitor X {}"}`,
		`{"id":"12","state":"inactive"}`,
	)}
	p := Applications(Deps{Fetcher: fetcher, Config: newFakeConfig(), Mirror: w})

	res := p.Refresh(context.Background())

	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Skipped, "hidden applications are not malformed")
	data, err := os.ReadFile(filepath.Join(workspace, mirror.Dir, "Thermostat"+mirror.Ext))
	require.NoError(t, err)
	assert.Equal(t, "monitor Thermostat {}", string(data))
}

func TestApplications_MirrorFailureStillPublishes(t *testing.T) {
	m := &failingMirror{failFor: "Broken"}
	fetcher := &fakeFetcher{fn: serve(
		`{"id":"1","name":"Broken","contents":"a"}`,
		`{"id":"2","name":"Fine","contents":"b"}`,
	)}
	p := Applications(Deps{Fetcher: fetcher, Config: newFakeConfig(), Mirror: m})

	res := p.Refresh(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, res.MirrorFailures)
	assert.Equal(t, []string{"Fine"}, m.written)
	assert.True(t, p.MirrorStale("1"))
	assert.False(t, p.MirrorStale("2"))

	m.failFor = ""
	p.Refresh(context.Background())
	assert.False(t, p.MirrorStale("1"), "a later successful write clears the flag")
}

func TestApplications_PrunesStaleMirrors(t *testing.T) {
	workspace := t.TempDir()
	w, err := mirror.NewWriter(workspace)
	require.NoError(t, err)
	stale := w.Path("Removed")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	cfg := newFakeConfig()
	cfg.snap.PruneMirror = true
	fetcher := &fakeFetcher{fn: serve(`{"id":"1","name":"Kept","contents":"x"}`)}
	p := Applications(Deps{Fetcher: fetcher, Config: cfg, Mirror: w})

	p.Refresh(context.Background())

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(w.Path("Kept"))
	assert.NoError(t, err)
}

func TestAlarms_DoNotMirror(t *testing.T) {
	m := &failingMirror{}
	p := Alarms(Deps{Fetcher: &fakeFetcher{fn: serve(`{"id":"1","text":"a"}`)}, Config: newFakeConfig(), Mirror: m})

	res := p.Refresh(context.Background())

	assert.Zero(t, res.MirrorFailures)
	assert.Empty(t, m.written)
}

func TestLookup(t *testing.T) {
	p := AlarmTypes(Deps{Fetcher: &fakeFetcher{fn: serve(`{"type":"c8y_Temp"}`, `{"id":"9","type":"c8y_Door"}`)}, Config: newFakeConfig()})
	p.Refresh(context.Background())

	node, ok := p.Lookup("c8y_Temp")
	require.True(t, ok)
	assert.Equal(t, "c8y_Temp", node.Label())

	node, ok = p.Lookup("9")
	require.True(t, ok)
	assert.Equal(t, "c8y_Door", node.Label())

	_, ok = p.Lookup("missing")
	assert.False(t, ok)
}

func TestAll_OrderAndNamespaces(t *testing.T) {
	handles := All(Deps{Fetcher: &fakeFetcher{fn: serve()}, Config: newFakeConfig()})
	require.Len(t, handles, 3)
	assert.Equal(t, NameApplications, handles[0].Name())
	assert.Equal(t, entity.KindApplication, handles[0].Kind())
	assert.Equal(t, config.NamespaceAlarms, handles[1].Namespace())
	assert.Equal(t, "Alarm Types", handles[2].Title())
	for _, h := range handles {
		assert.Equal(t, PhaseIdle, h.Phase())
	}
}
