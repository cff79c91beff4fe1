package govern

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// TaskGroup is the "scoped task group that cancels all children on exit"
// construct: an errgroup.Group bound to a cancellable context, whose Go
// method additionally wraps each task in superviseSync's panic-recovery/
// backoff loop. Wait blocks until every task has returned (normally, via
// cancellation, or after superviseSync gives up and cancels the group itself).
type TaskGroup struct {
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTaskGroup derives a cancellable child context from parent and returns
// a TaskGroup bound to it, along with that context for tasks to watch.
func NewTaskGroup(parent context.Context) (*TaskGroup, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &TaskGroup{g: g, ctx: gctx, cancel: cancel}, gctx
}

// Go launches fn under panic recovery and exponential backoff, blocking the
// group's Wait until fn returns for good (context cancelled, or retries
// exhausted and the group cancelled itself).
func (t *TaskGroup) Go(name string, fn func(ctx context.Context)) {
	t.g.Go(func() error {
		superviseSync(t.ctx, t.cancel, name, fn)
		return nil
	})
}

// Cancel tears down every task in the group.
func (t *TaskGroup) Cancel() { t.cancel() }

// Wait blocks until every task launched via Go has returned.
func (t *TaskGroup) Wait() error { return t.g.Wait() }

const (
	superviseMaxRetries = 5
	superviseMaxDelay   = 30 * time.Second
	superviseResetAfter = time.Minute
)

// superviseSync is the SafeGo-style panic-recovery/backoff loop, run
// synchronously in the caller's goroutine so it can be driven by
// errgroup.Group.Go instead of spawning its own goroutine.
func superviseSync(ctx context.Context, cancel context.CancelFunc, name string, fn func(ctx context.Context)) {
	retries := 0
	delay := time.Second

	for {
		start := time.Now()
		var panicValue any

		func() {
			defer func() { panicValue = recover() }()
			fn(ctx)
		}()

		if panicValue == nil {
			return
		}

		if time.Since(start) >= superviseResetAfter {
			retries = 0
			delay = time.Second
		}

		retries++
		log.Printf("panic in %s (attempt %d/%d): %v\n", name, retries, superviseMaxRetries, panicValue)

		if retries >= superviseMaxRetries {
			log.Printf("%s failed after %d retries, shutting down\n", name, superviseMaxRetries)
			cancel()
			return
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		delay *= 2
		if delay > superviseMaxDelay {
			delay = superviseMaxDelay
		}
	}
}
