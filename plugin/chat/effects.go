package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultEffectTimeout     = 30 * time.Second
	DefaultEffectConcurrency = 16
)

// Effect is a best-effort task dispatched after a primary write committed.
type Effect func(ctx context.Context) error

// Effects runs best-effort tasks in the background. A failing task never
// reaches the caller that dispatched it; it is logged and handed to
// OnFailure instead.
type Effects struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *slog.Logger

	// OnFailure observes failed, timed out and panicking tasks. It may be nil.
	OnFailure func(name string, err error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewEffects creates a runner executing at most concurrency tasks at a time,
// each bounded by timeout.
func NewEffects(concurrency int64, timeout time.Duration) *Effects {
	if concurrency <= 0 {
		concurrency = DefaultEffectConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultEffectTimeout
	}
	return &Effects{
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logger:  slog.Default().With("component", "chat-effects"),
	}
}

// Go dispatches fn. It returns false when the runner is closed and fn was
// dropped.
func (e *Effects) Go(name string, fn Effect) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.Warn("effect dropped, runner closed", "effect", name)
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if err := e.sem.Acquire(context.Background(), 1); err != nil {
			e.fail(name, err)
			return
		}
		defer e.sem.Release(1)
		e.run(name, fn)
	}()
	return true
}

func (e *Effects) run(name string, fn Effect) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("effect panicked: %v", r)
			}
		}()
		return fn(ctx)
	}()
	if err == nil && ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
	}
	if err != nil {
		e.logger.Warn("effect failed",
			"effect", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		e.fail(name, err)
	}
}

func (e *Effects) fail(name string, err error) {
	if e.OnFailure != nil {
		e.OnFailure(name, err)
	}
}

// Wait blocks until every dispatched task has finished.
func (e *Effects) Wait() {
	e.wg.Wait()
}

// Close stops accepting tasks and waits for the running ones.
func (e *Effects) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}
