package state

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type item struct {
	ID   string
	Name string
}

func TestCache_PublishAndSnapshotClone(t *testing.T) {
	var c Cache[item]

	before := time.Now()
	gen := c.Publish([]item{{ID: "1"}, {ID: "2"}})
	if gen.Seq != 1 {
		t.Fatalf("Seq = %d, want 1", gen.Seq)
	}

	snap := c.Snapshot()
	if len(snap.Generation.Entities) != 2 || snap.Generation.Entities[0].ID != "1" {
		t.Fatalf("entities = %#v, want 2 items in fetch order", snap.Generation.Entities)
	}
	if !snap.Enabled {
		t.Fatalf("Enabled = false, want true after publish")
	}
	if snap.LastAttempt.Before(before) {
		t.Fatalf("LastAttempt = %v, want >= %v", snap.LastAttempt, before)
	}
	if snap.LastError != nil {
		t.Fatalf("LastError = %v, want nil", snap.LastError)
	}

	// Returned snapshot should be independent of the stored one.
	snap.Generation.Entities[0].ID = "999"
	if got := c.Snapshot().Entities()[0].ID; got != "1" {
		t.Fatalf("Snapshot should clone entities; got id %q want 1", got)
	}
}

func TestCache_PublishCopiesInput(t *testing.T) {
	var c Cache[item]
	in := []item{{ID: "a"}}
	c.Publish(in)
	in[0].ID = "mutated"
	if got := c.Snapshot().Entities()[0].ID; got != "a" {
		t.Fatalf("Publish should copy its input; got %q", got)
	}
}

func TestCache_PublishReplacesWholesale(t *testing.T) {
	var c Cache[item]
	c.Publish([]item{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	gen := c.Publish([]item{{ID: "3"}})

	if gen.Seq != 2 {
		t.Fatalf("Seq = %d, want 2", gen.Seq)
	}
	got := c.Snapshot().Entities()
	if !reflect.DeepEqual(got, []item{{ID: "3"}}) {
		t.Fatalf("entities = %#v, want only the new generation", got)
	}
}

func TestCache_RecordFailureKeepsPreviousData(t *testing.T) {
	var c Cache[item]
	c.Publish([]item{{ID: "1"}})
	prev := c.Snapshot()

	origErr := errors.New("boom")
	c.RecordFailure(origErr)

	snap := c.Snapshot()
	if !reflect.DeepEqual(snap.Entities(), prev.Entities()) {
		t.Fatalf("entities changed on failure: got %#v want %#v", snap.Entities(), prev.Entities())
	}
	if snap.Generation.Seq != prev.Generation.Seq {
		t.Fatalf("Seq changed on failure: got %d want %d", snap.Generation.Seq, prev.Generation.Seq)
	}
	if snap.LastError == nil || snap.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", snap.LastError)
	}
	if !errors.Is(snap.LastError, origErr) {
		t.Fatalf("LastError should wrap the recorded error")
	}
	if reflect.ValueOf(snap.LastError).Pointer() == reflect.ValueOf(origErr).Pointer() {
		t.Fatalf("Snapshot should clone error instance")
	}
}

func TestCache_ClearEmptiesAndDisables(t *testing.T) {
	var c Cache[item]
	c.Publish([]item{{ID: "1"}})
	c.RecordFailure(errors.New("fail"))

	gen := c.Clear()
	snap := c.Snapshot()
	if len(snap.Entities()) != 0 {
		t.Fatalf("entities = %#v, want empty", snap.Entities())
	}
	if snap.Enabled {
		t.Fatalf("Enabled = true, want false after Clear")
	}
	if snap.LastError != nil || snap.ConsecutiveFailures != 0 {
		t.Fatalf("Clear should reset failure state: %v / %d", snap.LastError, snap.ConsecutiveFailures)
	}
	if gen.Seq != 2 {
		t.Fatalf("Seq = %d, want 2", gen.Seq)
	}
}

func TestCache_ConsecutiveFailures(t *testing.T) {
	var c Cache[item]

	snap := c.Snapshot()
	if snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("fresh cache: failures=%d offline=%v", snap.ConsecutiveFailures, snap.IsOffline())
	}

	c.RecordFailure(errors.New("fail 1"))
	if snap = c.Snapshot(); snap.IsOffline() {
		t.Fatal("IsOffline() = true, want false with 1 failure")
	}

	c.RecordFailure(errors.New("fail 2"))
	if snap = c.Snapshot(); !snap.IsOffline() || snap.ConsecutiveFailures != 2 {
		t.Fatalf("failures=%d offline=%v, want 2/true", snap.ConsecutiveFailures, snap.IsOffline())
	}

	c.Publish(nil)
	if snap = c.Snapshot(); snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("failures=%d offline=%v after success, want 0/false", snap.ConsecutiveFailures, snap.IsOffline())
	}
}

func TestCache_ConcurrentReadersSeeWholeGenerations(t *testing.T) {
	var c Cache[item]
	const size = 50

	build := func(tag string) []item {
		out := make([]item, size)
		for i := range out {
			out[i] = item{ID: tag}
		}
		return out
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ents := c.Snapshot().Entities()
				if len(ents) != 0 && len(ents) != size {
					t.Errorf("torn read: %d entities", len(ents))
					return
				}
				for _, e := range ents {
					if e.ID != ents[0].ID {
						t.Errorf("mixed generations in one read")
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		c.Publish(build(string(rune('a' + i%26))))
	}
	close(stop)
	wg.Wait()
}
