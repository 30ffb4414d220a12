package preload

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/preload-hub/preload-hub/internal/engine"
	"github.com/preload-hub/preload-hub/internal/events"
	"github.com/preload-hub/preload-hub/internal/logging"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) byType(kind events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, evt := range r.events {
		if evt.Type == kind {
			out = append(out, evt)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *recorder) {
	rec := &recorder{}
	return NewRegistry(rec, logging.Discard()), rec
}

func TestCreateBatchIDsStartAtZero(t *testing.T) {
	registry, _ := newTestRegistry()
	for want := 0; want < 3; want++ {
		if got := registry.CreateBatch(); got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	if len(registry.Snapshot()) != 3 {
		t.Fatalf("expected 3 registered batches")
	}
}

func TestBatchCompletesOnceWithFailures(t *testing.T) {
	registry, rec := newTestRegistry()
	id := registry.CreateBatch()
	batch := registry.Begin(id, 3)

	batch.Complete(0, nil)
	batch.Complete(1, errors.New("malformed"))
	if batch.Snapshot().State != StateDispatching {
		t.Fatalf("batch should still be dispatching")
	}
	batch.Complete(2, nil)

	select {
	case <-batch.Done():
	default:
		t.Fatalf("done latch should be closed")
	}

	progress := rec.byType(events.TypeProgress)
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(progress))
	}
	complete := rec.byType(events.TypeComplete)
	if len(complete) != 1 {
		t.Fatalf("expected exactly one complete event, got %d", len(complete))
	}
	evt := complete[0]
	if evt.BatchID != id || evt.Finished != 3 || evt.Skipped != 1 || evt.Total != 3 {
		t.Fatalf("unexpected complete event: %+v", evt)
	}
	if last := rec.events[len(rec.events)-1]; last.Type != events.TypeComplete {
		t.Fatalf("complete must be the last event, got %s", last.Type)
	}
	if _, ok := registry.Lookup(id); ok {
		t.Fatalf("finished batch should be pruned")
	}
}

func TestDuplicateAndOutOfRangeCompletionsIgnored(t *testing.T) {
	registry, rec := newTestRegistry()
	batch := registry.Begin(registry.CreateBatch(), 2)

	if !batch.Complete(0, nil) {
		t.Fatalf("first completion should count")
	}
	if batch.Complete(0, nil) {
		t.Fatalf("duplicate completion should be ignored")
	}
	if batch.Complete(5, nil) || batch.Complete(-1, nil) {
		t.Fatalf("out of range completion should be ignored")
	}
	batch.Complete(1, nil)
	if batch.Complete(1, nil) {
		t.Fatalf("finished batch should ignore completions")
	}

	snap := batch.Snapshot()
	if snap.Completed != snap.Total || snap.Completed != 2 {
		t.Fatalf("completed must equal total: %+v", snap)
	}
	if len(rec.byType(events.TypeComplete)) != 1 {
		t.Fatalf("expected a single complete event")
	}
}

func TestEmptyBatchCompletesImmediately(t *testing.T) {
	registry, rec := newTestRegistry()
	batch := registry.Begin(registry.CreateBatch(), 0)

	<-batch.Done()
	complete := rec.byType(events.TypeComplete)
	if len(complete) != 1 || complete[0].Total != 0 {
		t.Fatalf("expected one empty complete event, got %+v", complete)
	}
}

func TestConcurrentCompletions(t *testing.T) {
	registry, rec := newTestRegistry()
	const total = 64
	batch := registry.Begin(registry.CreateBatch(), total)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(2)
		go func(index int) {
			defer wg.Done()
			batch.Complete(index, nil)
		}(i)
		go func(index int) {
			defer wg.Done()
			batch.Complete(index, errors.New("dup"))
		}(i)
	}
	wg.Wait()

	snap := batch.Snapshot()
	if snap.Completed != total || snap.State != StateFinished {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(rec.byType(events.TypeProgress)) != total {
		t.Fatalf("expected one progress event per index")
	}
	if len(rec.byType(events.TypeComplete)) != 1 {
		t.Fatalf("expected exactly one complete event")
	}
}

func TestBeginUnknownIDRegistersLazily(t *testing.T) {
	registry, _ := newTestRegistry()
	batch := registry.Begin(7, 1)
	if batch.ID != 7 {
		t.Fatalf("unexpected id %d", batch.ID)
	}
	if next := registry.CreateBatch(); next != 8 {
		t.Fatalf("ids must stay unique, got %d", next)
	}
}

func TestRestartReplacesDispatchingBatch(t *testing.T) {
	registry, rec := newTestRegistry()
	id := registry.CreateBatch()
	old := registry.Begin(id, 2)
	old.Complete(0, nil)

	fresh := registry.Begin(id, 1)
	old.Complete(1, nil)
	if _, ok := registry.Lookup(id); !ok {
		t.Fatalf("old batch finishing must not prune its replacement")
	}
	fresh.Complete(0, nil)
	if _, ok := registry.Lookup(id); ok {
		t.Fatalf("replacement should be pruned after finishing")
	}
	if len(rec.byType(events.TypeComplete)) != 2 {
		t.Fatalf("each armed batch completes once")
	}
}

func TestListenerAdapter(t *testing.T) {
	registry, rec := newTestRegistry()
	batch := registry.Begin(registry.CreateBatch(), 2)

	NewListener(batch, 0).OnResourceReady(engine.Request{}, engine.Result{})
	NewListener(batch, 1).OnLoadFailed(engine.Request{}, nil)

	complete := rec.byType(events.TypeComplete)
	if len(complete) != 1 || complete[0].Skipped != 1 || complete[0].Finished != 2 {
		t.Fatalf("unexpected complete event: %+v", complete)
	}
}

func TestBeginMaxIntKeepsIDsIncreasing(t *testing.T) {
	registry, _ := newTestRegistry()
	first := registry.CreateBatch()
	registry.Begin(math.MaxInt, 1)

	next := registry.CreateBatch()
	if next <= first {
		t.Fatalf("ids must keep increasing, got %d after %d", next, first)
	}
}

func TestBeginPrunedIDLogsAtDebug(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	registry := NewRegistry(&recorder{}, logger)

	id := registry.CreateBatch()
	registry.Begin(id, 0)
	if _, ok := registry.Lookup(id); ok {
		t.Fatalf("empty batch should be pruned")
	}
	hook.Reset()

	registry.Begin(id, 1)
	for _, entry := range hook.AllEntries() {
		if entry.Level <= logrus.WarnLevel {
			t.Fatalf("reopening an allocated id should not warn: %s", entry.Message)
		}
	}

	hook.Reset()
	registry.Begin(id+10, 1)
	if last := hook.LastEntry(); last == nil || last.Level != logrus.WarnLevel || last.Message != "preload_unknown_batch" {
		t.Fatalf("never-allocated id should warn, got %+v", last)
	}
}

func TestSnapshotOmitsFinishedAtWhileDispatching(t *testing.T) {
	registry, _ := newTestRegistry()
	batch := registry.Begin(registry.CreateBatch(), 2)

	raw, err := json.Marshal(batch.Snapshot())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if strings.Contains(string(raw), "finished_at") {
		t.Fatalf("live batch should not report finished_at: %s", raw)
	}

	batch.Complete(0, nil)
	batch.Complete(1, nil)
	if snap := batch.Snapshot(); snap.FinishedAt == nil || snap.FinishedAt.IsZero() {
		t.Fatalf("finished batch should report finished_at: %+v", snap)
	}
}
