package asgi

import "context"

// Receiver is the `receive` awaitable half of the ASGI contract.
type Receiver interface {
	Receive(ctx context.Context) (Event, error)
}

// Sender is the `send` awaitable half of the ASGI contract.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

// App is the Go shape of an ASGI application callable: given a scope and
// its two endpoints, run the cycle to completion. A returned error is
// treated as an application exception (spec.md §7) and converted by the
// connection manager into a 500 response or a 1011 WebSocket close,
// whichever the active protocol calls for.
//
// An application that wants to run purely synchronous (blocking) logic
// should be written as an applib.SyncFunc and wrapped with
// applib.Pool.Wrap, which bounds how many such calls run at once.
type App func(ctx context.Context, scope Scope, receive Receiver, send Sender) error
