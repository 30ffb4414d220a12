package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/preload-hub/preload-hub/internal/logging"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	loop := New(logging.Discard(), 8)
	t.Cleanup(loop.Close)
	return loop
}

func TestRunExecutesSerially(t *testing.T) {
	loop := newTestLoop(t)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := loop.Run(context.Background(), func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("run failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("tasks should never overlap, saw %d concurrent", maxSeen)
	}
}

func TestCallReturnsValueAndError(t *testing.T) {
	loop := newTestLoop(t)

	value, err := Call(context.Background(), loop, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || value != "ok" {
		t.Fatalf("unexpected result %q/%v", value, err)
	}

	boom := errors.New("boom")
	_, err = Call(context.Background(), loop, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestNestedRunDoesNotDeadlock(t *testing.T) {
	loop := newTestLoop(t)
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(context.Background(), func(ctx context.Context) error {
			if !loop.OnLoop(ctx) {
				return errors.New("ctx should be marked as on-loop")
			}
			return loop.Run(ctx, func(context.Context) error { return nil })
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("nested run failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("nested run deadlocked")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	loop := newTestLoop(t)
	err := loop.Run(context.Background(), func(context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatalf("panic should surface as error")
	}
	if err := loop.Run(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("loop should keep working after a panic: %v", err)
	}
}

func TestRunHonoursDeadlineWhenQueueFull(t *testing.T) {
	loop := New(logging.Discard(), 1)
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		loop.Close()
	})

	go func() {
		_ = loop.Run(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	go func() {
		_ = loop.Run(context.Background(), func(context.Context) error { return nil })
	}()
	for len(loop.tasks) < cap(loop.tasks) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, func(context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run blocked past the caller deadline")
	}
}

func TestClosedLoopRejectsTasks(t *testing.T) {
	loop := New(logging.Discard(), 1)
	loop.Close()
	if err := loop.Run(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCancelledContextSkipsTask(t *testing.T) {
	loop := newTestLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := loop.Run(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("cancelled task should not run")
	}
}
