package proxy

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrExecutorClosed is returned by Go once Wait has been called.
var ErrExecutorClosed = errors.New("executor closed")

// Executor runs per-connection tasks off the accept loop.
type Executor interface {
	// Go runs task on another goroutine. It may block until capacity is
	// available, and fails if ctx is done first or Wait has been called.
	Go(ctx context.Context, task func()) error
	// Wait stops new tasks from starting, then blocks until every started
	// task has returned or ctx is done.
	Wait(ctx context.Context) error
}

// PoolExecutor runs at most a fixed number of tasks at once. When the pool is
// full Go blocks, which stalls the accept loop and pushes back on the
// listener's backlog.
type PoolExecutor struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPoolExecutor returns an executor running up to workers tasks at once.
// workers <= 0 means no limit.
func NewPoolExecutor(workers int) *PoolExecutor {
	e := &PoolExecutor{}
	if workers > 0 {
		e.sem = semaphore.NewWeighted(int64(workers))
	}
	return e
}

func (e *PoolExecutor) Go(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		if e.sem != nil {
			e.sem.Release(1)
		}
		return ErrExecutorClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if e.sem != nil {
			defer e.sem.Release(1)
		}
		task()
	}()
	return nil
}

func (e *PoolExecutor) Wait(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
