// Package server is the server core (spec.md §4.7): it holds shared
// configuration, the bound listener set, and orchestrates startup and
// graceful shutdown of the connection manager underneath it.
package server

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/webasgi/asgid/accesslog"
	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/config"
	"github.com/webasgi/asgid/connmanager"
	"github.com/webasgi/asgid/transport"
)

// EndpointKind tags an EndpointDescriptor (spec.md §3 "Endpoint descriptor").
type EndpointKind int

const (
	EndpointTCP EndpointKind = iota
	EndpointUnix
	EndpointFD
)

// EndpointDescriptor is one bindable listener, optionally TLS-wrapped.
type EndpointDescriptor struct {
	Kind EndpointKind
	Addr string // host:port for TCP, path for Unix, fd number (as string) for FD
	Mode os.FileMode // Unix only
	TLS  []tls.Certificate // non-nil wraps the listener in TLS + ALPN
	// ReusePort binds a plain TCP endpoint with SO_REUSEPORT, letting a
	// second process share the port during a rolling restart. TCP-only.
	ReusePort bool
}

type hooks struct {
	onStart, onStopped func()
}

// Server holds configuration, the bound listener set, and the
// connection manager; Run blocks until shutdown.
type Server struct {
	cfg       *config.Config
	app       asgi.App
	log       *logrus.Logger
	access    *accesslog.Logger
	endpoints []EndpointDescriptor
	manager   *connmanager.Manager

	hooks   hooks
	errCh   chan error
	stopped atomic.Bool
}

// New builds a Server. log and access may be nil.
func New(cfg *config.Config, app asgi.App, log *logrus.Logger, access *accesslog.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}

	return &Server{
		cfg:    cfg,
		app:    app,
		log:    log,
		access: access,
		errCh:  make(chan error, 1),
	}
}

// AddEndpoint registers a listener to be bound when Run starts.
func (s *Server) AddEndpoint(d EndpointDescriptor) *Server {
	s.endpoints = append(s.endpoints, d)
	return s
}

// OnStart registers a callback fired once every listener is accepting
// connections (spec.md §4.7 "server-started").
func (s *Server) OnStart(cb func()) *Server {
	s.hooks.onStart = cb
	return s
}

// OnStopped registers a callback fired once every listener and
// connection has torn down (spec.md §4.7 "server-stopped").
func (s *Server) OnStopped(cb func()) *Server {
	s.hooks.onStopped = cb
	return s
}

// Run binds every registered endpoint and blocks until Shutdown is
// called or a listener fails. Exit code mapping (spec.md §6): a non-nil
// return here corresponds to exit code 1 (startup/listener failure).
func (s *Server) Run() error {
	if len(s.endpoints) == 0 {
		return fmt.Errorf("server: no endpoints configured")
	}

	s.manager = connmanager.New(s.cfg, s.app, s.log, s.access)

	bound := make([]boundEndpoint, 0, len(s.endpoints))
	for _, d := range s.endpoints {
		t, isTLS, err := bindEndpoint(d)
		if err != nil {
			for _, b := range bound {
				b.transport.Close()
			}
			return fmt.Errorf("server: bind %v: %w", d, err)
		}
		bound = append(bound, boundEndpoint{transport: t, isTLS: isTLS})
	}

	for _, b := range bound {
		go func(b boundEndpoint) {
			err := b.transport.Listen(s.cfg.NET, s.manager.Handle(b.isTLS))
			if !s.stopped.Load() {
				select {
				case s.errCh <- err:
				default:
				}
			}
		}(b)
	}

	if s.hooks.onStart != nil {
		s.hooks.onStart()
	}

	err := <-s.errCh
	s.stopped.Store(true)

	for _, b := range bound {
		b.transport.Stop()
	}
	for _, b := range bound {
		b.transport.Wait()
		b.transport.Close()
	}

	s.manager.Shutdown(s.cfg.Timeouts.ShutdownGrace)

	if s.hooks.onStopped != nil {
		s.hooks.onStopped()
	}

	return err
}

// Shutdown requests a graceful stop: Run's error channel is fed nil,
// unwinding the same teardown path a listener failure would take.
func (s *Server) Shutdown() {
	if s.stopped.CompareAndSwap(false, true) {
		s.errCh <- nil
	}
}

type boundEndpoint struct {
	transport transport.Transport
	isTLS     bool
}

func bindEndpoint(d EndpointDescriptor) (transport.Transport, bool, error) {
	var t transport.Transport
	isTLS := len(d.TLS) > 0

	switch d.Kind {
	case EndpointTCP:
		if isTLS {
			t = transport.NewTLS(d.TLS)
		} else {
			tcp := transport.NewTCP()
			if d.ReusePort {
				if err := tcp.BindReusePort(d.Addr); err != nil {
					return nil, false, err
				}
				return tcp, false, nil
			}
			t = tcp
		}
	case EndpointUnix:
		t = transport.NewUnix(d.Mode)
		isTLS = false
	case EndpointFD:
		t = transport.NewFD()
	default:
		return nil, false, fmt.Errorf("server: unknown endpoint kind %d", d.Kind)
	}

	if err := t.Bind(d.Addr); err != nil {
		return nil, false, err
	}

	return t, isTLS, nil
}
