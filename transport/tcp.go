package transport

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webasgi/asgid/config"
	"github.com/webasgi/asgid/internal/timer"
)

type listener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// TCP is the plain (non-TLS) TCP listener. Each accepted connection is
// handed to cb on its own goroutine, matching the one-goroutine-per-
// connection model the rest of the server assumes (spec.md §5 design
// notes: "goroutines + channels").
type TCP struct {
	l    listener
	wg   *sync.WaitGroup
	stop *atomic.Bool
}

func NewTCP() *TCP {
	tcp := newTCP(nil)
	return &tcp
}

func newTCP(l listener) TCP {
	return TCP{
		l:    l,
		wg:   new(sync.WaitGroup),
		stop: new(atomic.Bool),
	}
}

func bindTCP(addr string) (*net.TCPListener, error) {
	tcpaddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	return net.ListenTCP("tcp", tcpaddr)
}

func (t *TCP) Bind(addr string) (err error) {
	t.l, err = bindTCP(addr)
	return err
}

// BindReusePort binds with SO_REUSEPORT set (best-effort on platforms
// without it, see reuseport_windows.go), letting more than one process
// accept on the same address (spec.md §4.1's listener set, extended by
// SPEC_FULL.md §3 for zero-downtime restarts).
func (t *TCP) BindReusePort(addr string) (err error) {
	t.l, err = bindTCPReusePort(addr)
	return err
}

// Listen runs the accept loop until Stop is called. cfg.MaxConcurrentAccepts
// bounds the number of simultaneously live connections on this listener
// (spec.md §4.1): once saturated, newly accepted sockets are closed
// immediately rather than handed to cb.
func (t *TCP) Listen(cfg config.NET, cb func(conn net.Conn)) error {
	sem := newAcceptSemaphore(cfg.MaxConcurrentAccepts)

	for !t.stop.Load() {
		if err := t.l.SetDeadline(timer.Now().Add(cfg.AcceptLoopInterruptPeriod)); err != nil {
			return err
		}

		conn, err := t.l.Accept()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Err.Error() == os.ErrDeadlineExceeded.Error() {
				continue
			}

			return err
		}

		if !sem.acquire() {
			_, _ = conn.Write(overloadResponse)
			_ = conn.Close()
			continue
		}

		go func(conn net.Conn) {
			t.wg.Add(1)
			defer t.wg.Done()
			defer sem.release()
			defer conn.Close()
			cb(conn)
		}(conn)
	}

	return nil
}

func (t *TCP) Stop() {
	t.stop.Store(true)
}

func (t *TCP) Close() {
	_ = t.l.Close()
}

func (t *TCP) Wait() {
	t.wg.Wait()
}

// overloadResponse is written, best-effort, to a socket rejected for
// exceeding the accept concurrency cap (spec.md §4.1: "closed with a
// 503-equivalent response for HTTP"). A non-HTTP peer simply sees a
// connection that writes garbage and closes, which for WebSocket is
// indistinguishable from "rejected".
var overloadResponse = []byte("HTTP/1.1 503 Service Unavailable\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")

// acceptSemaphore implements spec.md §4.1's "global concurrency cap MAY
// be configured; when exceeded, additional sockets are accepted and
// immediately closed".
type acceptSemaphore struct {
	ch chan struct{}
}

func newAcceptSemaphore(max int) acceptSemaphore {
	if max <= 0 {
		return acceptSemaphore{}
	}
	return acceptSemaphore{ch: make(chan struct{}, max)}
}

func (s acceptSemaphore) acquire() bool {
	if s.ch == nil {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s acceptSemaphore) release() {
	if s.ch != nil {
		<-s.ch
	}
}
