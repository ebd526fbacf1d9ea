package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolExecutor(t *testing.T) {
	e := NewPoolExecutor(1)
	release := make(chan struct{})
	if err := e.Go(context.Background(), func() { <-release }); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.Go(ctx, func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Go on full pool=%v", err)
	}
	if err := e.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait with running task=%v", err)
	}

	if err := e.Go(context.Background(), func() {}); !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("Go after Wait=%v", err)
	}

	close(release)
	if err := e.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestPoolExecutorGoRacingWait(t *testing.T) {
	e := NewPoolExecutor(4)

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				err := e.Go(context.Background(), func() { started.Add(1) })
				if errors.Is(err, ErrExecutorClosed) {
					return
				}
				if err != nil {
					t.Errorf("Go=%v", err)
					return
				}
			}
		})
	}

	if err := e.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Anything Go accepted has finished by the time Wait returns.
	n := started.Load()
	wg.Wait()
	if got := started.Load(); got != n {
		t.Fatalf("%d tasks started after Wait returned", got-n)
	}
	if err := e.Go(context.Background(), func() {}); !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("Go after Wait=%v", err)
	}
}

func TestPoolExecutorUnbounded(t *testing.T) {
	e := NewPoolExecutor(0)
	release := make(chan struct{})
	for range 10 {
		if err := e.Go(context.Background(), func() { <-release }); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	if err := e.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Go(ctx, func() {}); err == nil {
		t.Fatal("Go with canceled context succeeded")
	}
}
