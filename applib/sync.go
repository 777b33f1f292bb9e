package applib

import (
	"context"

	"github.com/webasgi/asgid/asgi"
)

// SyncFunc is a synchronous application callable: it blocks the calling
// goroutine for arbitrary wall-clock time, unlike asgi.App which is
// expected to suspend only at receive/send boundaries (spec.md §5: "the
// pool is the moral equivalent of a thread pool and is the ONLY place
// blocking work is tolerated").
type SyncFunc func(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error

// Pool bounds how many SyncFunc calls may run concurrently, the Go
// equivalent of ASGI_THREADS (spec.md §6). Zero means unbounded.
type Pool struct {
	sem chan struct{}
}

func NewPool(max int) *Pool {
	if max <= 0 {
		return &Pool{}
	}
	return &Pool{sem: make(chan struct{}, max)}
}

// Wrap adapts fn into an asgi.App that runs on the pool: it acquires a
// slot (blocking if the pool is saturated), runs fn, then releases.
// Acquisition itself respects ctx cancellation.
func (p *Pool) Wrap(fn SyncFunc) asgi.App {
	return func(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
		if p.sem != nil {
			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fn(ctx, scope, receive, send)
	}
}
