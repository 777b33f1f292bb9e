// Package connmanager owns the active-connection set: accepting a raw
// net.Conn from the listener set, picking the right protocol adapter
// (HTTP/1.1, HTTP/2 via ALPN, WebSocket via upgrade), tracking the
// connection until it closes, and driving graceful shutdown (spec.md
// §4.6).
package connmanager

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/webasgi/asgid/accesslog"
	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	reusablectx "github.com/webasgi/asgid/ctx"
	"github.com/webasgi/asgid/protocol/http1"
	"github.com/webasgi/asgid/protocol/http2"
	"github.com/webasgi/asgid/protocol/websocket"
	"github.com/webasgi/asgid/transport"
)

var errBadPreface = errors.New("connmanager: invalid HTTP/2 client preface")

type corrIDKey struct{}

// CorrelationID extracts the connection-scoped correlation id a
// protocol adapter or application task was handed via ctx, empty if
// none is set (e.g. a context not derived from Manager.serve).
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(corrIDKey{}).(string)
	return id
}

// Manager accepts connections handed to it by the listener set and
// serves them until they complete or the manager is shut down.
type Manager struct {
	cfg *config.Config
	app asgi.App
	log *logrus.Logger

	ws *websocket.Handler

	access *accesslog.Logger

	mu      sync.Mutex
	conns   map[uint64]*connState
	nextID  uint64
	closing atomic.Bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type connState struct {
	id         uint64
	corrID     string // google/uuid, for access-log and error-log correlation
	cancel     context.CancelFunc
	client     transport.Client
	websocket  bool
	openedAt   time.Time
	lastActive atomic.Int64 // unix nanos

	// shutdown is closed by Manager.Shutdown to ask this connection to
	// wind down gracefully (e.g. a WebSocket sending close 1001, spec.md
	// §4.6 invariant 4) before the hard-cancel deadline.
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New builds a Manager. access may be nil to disable access logging.
func New(cfg *config.Config, app asgi.App, log *logrus.Logger, access *accesslog.Logger) *Manager {
	if log == nil {
		log = logrus.New()
	}

	m := &Manager{
		cfg:    cfg,
		app:    app,
		log:    log,
		access: access,
		conns:  make(map[uint64]*connState),
	}
	m.ws = websocket.New(cfg)
	m.ws.OnError = m.reportError
	m.ws.AccessLog = m.logWSEvent

	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})
	go m.sweepLoop()

	return m
}

// Handle is the callback handed to transport listeners. isTLS tells it
// whether ALPN negotiation may have selected HTTP/2.
func (m *Manager) Handle(isTLS bool) func(net.Conn) {
	return func(conn net.Conn) {
		m.serve(conn, isTLS)
	}
}

func (m *Manager) serve(conn net.Conn, isTLS bool) {
	readTimeout := m.cfg.Timeouts.HTTP
	client := transport.NewClient(conn, readTimeout, make([]byte, m.cfg.NET.ReadBufferSize))

	state := m.register(client)
	defer m.unregister(state.id)

	info := buildConnInfo(conn, isTLS)

	base, cancel := context.WithCancel(context.Background())
	state.cancel = cancel
	defer cancel()

	// The correlation id rides the connection's context via the
	// reusable/allocation-light ValueCtx rather than a second
	// context.WithValue layer, since every cycle on this connection
	// reads the same single key.
	ctx := reusablectx.WithValue(base, corrIDKey{}, state.corrID)
	ctx = websocket.WithShutdownSignal(ctx, state.shutdown)

	reportError := m.reportErrorFor(state.corrID)
	reportAccess := m.accessLogFor(state.corrID, conn.RemoteAddr(), protocolTag(isTLS))

	var err error
	if isTLS && transport.NegotiatedProtocol(conn) == "h2" {
		var leftover []byte
		leftover, err = readClientPreface(client)
		if err == nil {
			h2 := http2.NewConn(client, m.cfg, info, m.app, reportError, reportAccess)
			err = h2.Serve(ctx, leftover)
		}
	} else {
		err = http1.Serve(ctx, client, m.cfg, m.app, info, m.ws, reportError, reportAccess)
	}

	if err != nil {
		m.log.WithError(err).WithField("conn_id", state.corrID).Debug("connection closed")
	}
}

// accessLogFor binds a connection's correlation id, remote address and
// protocol tag to an http1.AccessLogFunc/http2.AccessLogFunc-compatible
// closure, called once per HTTP request/response cycle — not once per
// TCP connection — matching daphne/access.py's per-request logging
// (spec.md §4.6 "AccessLogEntry").
func (m *Manager) accessLogFor(corrID string, client net.Addr, protocol string) func(method, path string, statusCode int, size int64, start time.Time) {
	return func(method, path string, statusCode int, size int64, start time.Time) {
		if m.access == nil {
			return
		}
		m.access.Log(accesslog.Entry{
			ID:        corrID,
			Protocol:  protocol,
			Action:    method,
			Path:      path,
			Client:    client,
			Status:    statusCode,
			Size:      size,
			Duration:  time.Since(start),
			Timestamp: start,
		})
	}
}

// logWSEvent reports a WebSocket connect/disconnect lifecycle event
// (spec.md §4.6, grounded on daphne/access.py's WSCONNECT/WSDISCONNECT
// lines). Bound once to the shared websocket.Handler at construction,
// so — like OnError — it cannot carry a per-connection correlation id.
func (m *Manager) logWSEvent(action, path string, start time.Time) {
	if m.access == nil {
		return
	}
	m.access.Log(accesslog.Entry{
		Protocol:  "websocket",
		Action:    action,
		Path:      path,
		Duration:  time.Since(start),
		Timestamp: start,
	})
}

func (m *Manager) register(client transport.Client) *connState {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	st := &connState{id: m.nextID, corrID: uuid.NewString(), client: client, openedAt: time.Now(), shutdown: make(chan struct{})}
	st.lastActive.Store(time.Now().UnixNano())
	m.conns[st.id] = st

	return st
}

func (m *Manager) unregister(id uint64) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

func (m *Manager) reportError(err error, stack []byte) {
	m.reportErrorFor("")(err, stack)
}

// reportErrorFor binds a connection's correlation id to the error
// reporter handed to a protocol adapter, so panics and protocol
// violations logged mid-connection can be tied back to its access-log
// entry.
func (m *Manager) reportErrorFor(corrID string) func(err error, stack []byte) {
	return func(err error, stack []byte) {
		if err == nil {
			return
		}
		if stack == nil {
			stack = debug.Stack()
		}
		entry := m.log.WithError(err).WithField("stack", string(stack))
		if corrID != "" {
			entry = entry.WithField("conn_id", corrID)
		}
		entry.Error("application task failed")
	}
}

// Shutdown asks every tracked connection to wind down gracefully —
// closing st.shutdown, which a WebSocket connection observes via
// websocket.WithShutdownSignal and answers with a close code 1001
// (spec.md §4.6 invariant 4: "send a graceful close to every WebSocket
// on shutdown") — then gives each up to grace to actually finish before
// hard-cancelling whatever is still open.
func (m *Manager) Shutdown(grace time.Duration) {
	m.closing.Store(true)
	close(m.sweepStop)
	<-m.sweepDone

	m.mu.Lock()
	states := make([]*connState, 0, len(m.conns))
	for _, st := range m.conns {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.shutdownOnce.Do(func() { close(st.shutdown) })
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		remaining := len(m.conns)
		m.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}

	m.mu.Lock()
	stragglers := make([]*connState, 0, len(m.conns))
	for _, st := range m.conns {
		stragglers = append(stragglers, st)
	}
	m.mu.Unlock()

	for _, st := range stragglers {
		if st.cancel != nil {
			st.cancel()
		}
	}
}

// sweepLoop is the centralized timeout sweep recovered from
// daphne/server.py's Server.check_timeouts (spec.md §5.6): a ticker
// scanning the active-connection set. Per-connection protocol adapters
// already enforce their own read deadlines and idle timers; this sweep
// is the backstop that catches a connection whose local timer failed to
// fire, by hard-cancelling anything that has sat open well past the
// longest configured timeout.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	backstop := m.cfg.Timeouts.WebSocket + m.cfg.Timeouts.ApplicationClose + 30*time.Second
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range m.conns {
		if now.Sub(st.openedAt) > backstop && st.cancel != nil {
			st.cancel()
		}
	}
}

func buildConnInfo(conn net.Conn, isTLS bool) bridge.ConnInfo {
	info := bridge.ConnInfo{TLS: isTLS}

	if host, port, ok := splitHostPort(conn.RemoteAddr()); ok {
		info.ClientHost, info.ClientPort = host, port
	}
	if host, port, ok := splitHostPort(conn.LocalAddr()); ok {
		info.ServerHost, info.ServerPort = host, port
	}

	return info
}

func splitHostPort(addr net.Addr) (string, int, bool) {
	if addr == nil {
		return "", 0, false
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

// readClientPreface consumes the fixed 24-byte HTTP/2 client connection
// preface (RFC 9113 §3.4) off client, returning whatever bytes were
// read past it so the frame reader can pick up from there.
func readClientPreface(client transport.Client) ([]byte, error) {
	want := []byte(http2.ClientPreface)
	var got []byte

	for len(got) < len(want) {
		chunk, err := client.Read()
		if err != nil {
			return nil, err
		}
		got = append(got, chunk...)
	}

	if string(got[:len(want)]) != string(want) {
		return nil, errBadPreface
	}

	return got[len(want):], nil
}

func protocolTag(isTLS bool) string {
	if isTLS {
		return "https"
	}
	return "http"
}

