package bridge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/preload-hub/preload-hub/internal/dispatch"
	"github.com/preload-hub/preload-hub/internal/engine"
	"github.com/preload-hub/preload-hub/internal/events"
	"github.com/preload-hub/preload-hub/internal/logging"
	"github.com/preload-hub/preload-hub/internal/preload"
	"github.com/preload-hub/preload-hub/internal/source"
)

// fakeEngine 同步回调，记录调用次数。
type fakeEngine struct {
	mu           sync.Mutex
	preloads     []engine.Request
	downloads    int
	memoryClears int
	diskErr      error
	downloadErr  error
	downloadPath string

	// downloadGate 非空时 DownloadOnly 先通知 downloadStarted，再阻塞到 gate 关闭。
	downloadGate    chan struct{}
	downloadStarted chan struct{}
}

func (f *fakeEngine) Preload(req engine.Request, listener engine.Listener) {
	f.mu.Lock()
	f.preloads = append(f.preloads, req)
	f.mu.Unlock()
	listener.OnResourceReady(req, engine.Result{DataSource: engine.DataSourceRemote})
}

func (f *fakeEngine) DownloadOnly(context.Context, engine.Request) (string, error) {
	if f.downloadGate != nil {
		close(f.downloadStarted)
		<-f.downloadGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.downloadPath, f.downloadErr
}

func (f *fakeEngine) ClearMemory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memoryClears++
}

func (f *fakeEngine) ClearDisk(context.Context) error { return f.diskErr }

func (f *fakeEngine) Stats() engine.Stats { return engine.Stats{} }

func newTestModule(t *testing.T, fake *fakeEngine) (*Module, *events.Bus) {
	t.Helper()
	logger := logging.Discard()
	loop := dispatch.New(logger, 16)
	t.Cleanup(loop.Close)
	bus := events.NewBus()

	module, err := New(Options{
		Loop:     loop,
		Engine:   fake,
		Registry: preload.NewRegistry(bus, logger),
		Resolver: source.NewResolver(nil),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	return module, bus
}

func TestPreloadWithMalformedSourceStillCompletes(t *testing.T) {
	fake := &fakeEngine{}
	module, bus := newTestModule(t, fake)
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	ctx := context.Background()
	id, err := module.CreatePreloader(ctx)
	if err != nil || id != 0 {
		t.Fatalf("unexpected preloader id %d: %v", id, err)
	}

	total, err := module.Preload(ctx, id, []map[string]any{
		{"uri": "https://example.com/a.png"},
		{"uri": "::not a uri::"},
		{"uri": "data:image/png;base64,iVBORw0KGgo="},
	})
	if err != nil || total != 3 {
		t.Fatalf("unexpected preload result total=%d err=%v", total, err)
	}

	var progress int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.BatchID != id {
				t.Fatalf("unexpected batch id %d", evt.BatchID)
			}
			if evt.Type == events.TypeProgress {
				progress++
				continue
			}
			if evt.Finished != 3 || evt.Skipped != 1 || evt.Total != 3 {
				t.Fatalf("unexpected complete event: %+v", evt)
			}
			if progress != 3 {
				t.Fatalf("expected 3 progress events before complete, got %d", progress)
			}
			if len(fake.preloads) != 2 {
				t.Fatalf("malformed source must not reach the engine, got %d requests", len(fake.preloads))
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for complete event")
		}
	}
}

func TestGetCachePathLocalSourcesSkipEngine(t *testing.T) {
	fake := &fakeEngine{downloadPath: "/tmp/x"}
	module, _ := newTestModule(t, fake)

	for _, uri := range []string{"file:///sdcard/a.png", "/var/images/b.png", "data:image/png;base64,iVBORw0KGgo="} {
		path, err := module.GetCachePath(context.Background(), map[string]any{"uri": uri})
		if err != nil || path != nil {
			t.Fatalf("%s: expected nil path, got %v (err=%v)", uri, path, err)
		}
	}
	if fake.downloads != 0 {
		t.Fatalf("engine must not be called for local sources")
	}
}

func TestGetCachePathRemoteReturnsAbsolutePath(t *testing.T) {
	fake := &fakeEngine{downloadPath: "cache/remote/ab/abcdef"}
	module, _ := newTestModule(t, fake)

	path, err := module.GetCachePath(context.Background(), map[string]any{"uri": "https://example.com/a.png"})
	if err != nil || path == nil {
		t.Fatalf("expected path, got %v (err=%v)", path, err)
	}
	if !filepath.IsAbs(*path) {
		t.Fatalf("expected absolute path, got %s", *path)
	}
}

func TestGetCachePathErrors(t *testing.T) {
	fake := &fakeEngine{downloadErr: errors.New("boom")}
	module, _ := newTestModule(t, fake)

	_, err := module.GetCachePath(context.Background(), map[string]any{"uri": "https://example.com/a.png"})
	if !errors.Is(err, engine.ErrLoadFailed) {
		t.Fatalf("expected ERROR_LOAD_FAILED, got %v", err)
	}

	_, err = module.GetCachePath(context.Background(), map[string]any{"uri": "ftp://example.com/a.png"})
	if !errors.Is(err, source.ErrInvalidSource) {
		t.Fatalf("expected invalid source, got %v", err)
	}
}

func TestClearCaches(t *testing.T) {
	fake := &fakeEngine{diskErr: errors.New("disk busy")}
	module, _ := newTestModule(t, fake)

	if err := module.ClearMemoryCache(context.Background()); err != nil {
		t.Fatalf("clear memory failed: %v", err)
	}
	if fake.memoryClears != 1 {
		t.Fatalf("expected engine memory clear")
	}
	if err := module.ClearDiskCache(context.Background()); err != nil {
		t.Fatalf("disk errors must not surface: %v", err)
	}
	if diag := module.Diagnostics(); len(diag.Batches) != 0 || diag.Module != Name {
		t.Fatalf("clearing caches must not touch batches: %+v", diag)
	}
}

func TestGetCachePathDownloadDoesNotBlockLoop(t *testing.T) {
	fake := &fakeEngine{
		downloadPath:    "cache/remote/ab/abcdef",
		downloadGate:    make(chan struct{}),
		downloadStarted: make(chan struct{}),
	}
	module, _ := newTestModule(t, fake)

	done := make(chan error, 1)
	go func() {
		_, err := module.GetCachePath(context.Background(), map[string]any{"uri": "https://example.com/slow.png"})
		done <- err
	}()

	select {
	case <-fake.downloadStarted:
	case <-time.After(2 * time.Second):
		t.Fatalf("download never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := module.ClearMemoryCache(ctx); err != nil {
		close(fake.downloadGate)
		t.Fatalf("loop blocked by pending download: %v", err)
	}

	close(fake.downloadGate)
	if err := <-done; err != nil {
		t.Fatalf("unexpected cache path error: %v", err)
	}
}
