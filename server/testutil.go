package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/config"
)

// Harness is the handle Run gives a test: the ephemeral
// address the server bound, and a Stop function to tear it down.
type Harness struct {
	Addr string
	stop func()
	done chan error
}

// Stop shuts the server down and waits for Run to return.
func (h *Harness) Stop() error {
	h.stop()
	return <-h.done
}

// Run binds app to an OS-chosen TCP port, starts the server on a
// background goroutine, and returns once it's accepting connections —
// the Go equivalent of daphne/testing.py's TestApplication child-process
// harness (spec.md §4.7), minus the cross-process boundary: a goroutine
// plays the role the source used a subprocess for.
func Run(cfg *config.Config, app asgi.App) (*Harness, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	addr := l.Addr().String()
	_ = l.Close()

	srv := New(cfg, app, nil, nil)
	srv.AddEndpoint(EndpointDescriptor{Kind: EndpointTCP, Addr: addr})

	ready := make(chan struct{})
	srv.OnStart(func() { close(ready) })

	done := make(chan error, 1)
	go func() {
		done <- srv.Run()
	}()

	select {
	case <-ready:
	case err := <-done:
		if err == nil {
			err = fmt.Errorf("server: exited before starting")
		}
		return nil, err
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("server: timed out waiting for startup")
	}

	return &Harness{Addr: addr, stop: srv.Shutdown, done: done}, nil
}

// Dial opens a plain TCP connection to the harness's address, for tests
// driving raw wire bytes end to end.
func (h *Harness) Dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", h.Addr)
}
