// Package bridge implements the scope/message bridge (spec.md §4.5): the
// two endpoints — Receive and Send — an application task uses to talk to
// whichever protocol adapter (protocol/http1, protocol/http2,
// protocol/websocket) owns the live connection.
//
// A Cycle is deliberately thin. It does not know HTTP or WebSocket
// framing; it only moves asgi.Event values between a protocol adapter
// goroutine and an application-task goroutine, enforces the ordering
// preconditions a Validator describes, and guarantees the *.disconnect
// event is delivered to the application exactly once.
package bridge

import (
	"context"
	"sync"

	"github.com/webasgi/asgid/asgi"
	asgierrors "github.com/webasgi/asgid/errors"
)

// Validator inspects an outbound (application -> protocol) event against
// the protocol's own state machine, per spec.md §4.2/§4.4. A non-nil
// error aborts the cycle with ErrProtocolViolation semantics.
type Validator interface {
	Validate(asgi.Event) error
}

// Cycle is the live channel pair backing one request cycle or one
// WebSocket cycle (spec.md §3 "Application task handle").
type Cycle struct {
	Scope asgi.Scope

	toApp   chan asgi.Event
	fromApp chan asgi.Event

	validator Validator

	closeOnce sync.Once
	closed    chan struct{}

	disconnectOnce sync.Once
	disconnectSent chan struct{}
	disconnectEvt  asgi.Event
}

// New creates a Cycle for scope. Both internal channels are buffered to
// exactly one event, matching spec.md §5's "neither buffers unboundedly":
// the protocol adapter must wait for the application to drain one event
// before handing over the next, and vice versa.
func New(scope asgi.Scope) *Cycle {
	return &Cycle{
		Scope:          scope,
		toApp:          make(chan asgi.Event, 1),
		fromApp:        make(chan asgi.Event, 1),
		closed:         make(chan struct{}),
		disconnectSent: make(chan struct{}),
	}
}

// SetValidator installs the protocol-specific send-side order guard.
// Called once by the owning protocol adapter before the application task
// starts.
func (c *Cycle) SetValidator(v Validator) {
	c.validator = v
}

// Deliver hands a protocol -> application event to the next Receive
// call. It blocks until the application has drained the previous event
// or the cycle is closed, in which case it is dropped silently (the
// connection is already gone).
func (c *Cycle) Deliver(ctx context.Context, ev asgi.Event) {
	select {
	case c.toApp <- ev:
	case <-c.closed:
	case <-ctx.Done():
	}
}

// Disconnect arms the exactly-once *.disconnect event returned by every
// subsequent Receive call once the inbound queue has drained, and wakes
// up any Receive currently blocked. Calling it more than once is a no-op
// (spec.md §8: "eventually exactly one matching *.disconnect event").
func (c *Cycle) Disconnect(evt asgi.Event) {
	c.disconnectOnce.Do(func() {
		c.disconnectEvt = evt
		close(c.disconnectSent)
	})
}

// Close tears the cycle down: pending Sends are unblocked and discarded
// silently (spec.md §5: "any late send is discarded silently"), and
// Receive stops blocking: it returns the event armed by Disconnect if
// that hasn't been taken yet, and ErrDisconnected otherwise (Close itself
// arms no disconnect event).
func (c *Cycle) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Closed reports whether Close has been called.
func (c *Cycle) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Receive implements the application-facing `receive` awaitable
// (spec.md §4.5). It yields the next queued inbound event, or the
// disconnect event exactly once when the connection has gone away, or
// ErrCancelled if ctx is done first.
func (c *Cycle) Receive(ctx context.Context) (asgi.Event, error) {
	// An already-queued inbound event goes out before the disconnect.
	select {
	case ev := <-c.toApp:
		return ev, nil
	default:
	}

	select {
	case ev := <-c.toApp:
		return ev, nil
	case <-c.disconnectSent:
		return c.takeDisconnect()
	case <-c.closed:
		return c.takeDisconnect()
	case <-ctx.Done():
		return asgi.Event{}, asgierrors.ErrCancelled
	}
}

// takeDisconnect returns the armed disconnect event on first call and
// ErrDisconnected on every call after, so a cycle that keeps calling
// Receive after disconnecting doesn't observe a duplicate event.
func (c *Cycle) takeDisconnect() (asgi.Event, error) {
	select {
	case <-c.disconnectSent:
		evt := c.disconnectEvt
		if evt.Type == "" {
			return asgi.Event{}, asgierrors.ErrDisconnected
		}
		c.disconnectEvt = asgi.Event{}
		return evt, nil
	default:
		return asgi.Event{}, asgierrors.ErrDisconnected
	}
}

// Send implements the application-facing `send` awaitable. It validates
// ev against the installed Validator, then hands it to the protocol
// adapter's outbound consumer. Returns ErrCancelled if ctx is done and
// silently discards the event (returns nil) if the cycle has already
// closed, matching spec.md §5's cancellation contract.
func (c *Cycle) Send(ctx context.Context, ev asgi.Event) error {
	if c.validator != nil {
		if err := c.validator.Validate(ev); err != nil {
			return err
		}
	}

	select {
	case c.fromApp <- ev:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return asgierrors.ErrCancelled
	}
}

// Outbound returns the channel the protocol adapter reads application
// events from. Only the protocol adapter goroutine may receive from it.
func (c *Cycle) Outbound() <-chan asgi.Event {
	return c.fromApp
}
