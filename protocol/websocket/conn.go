package websocket

import (
	"context"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/protocol/http1"
	"github.com/webasgi/asgid/transport"
)

// Handler implements protocol/http1.Upgrader, driving the full
// WebSocket lifecycle of spec.md §4.4 once an HTTP/1.1 connection has
// been identified as an upgrade request.
type Handler struct {
	cfg *config.Config

	// MaxMessageSize bounds a reassembled message's total size (spec.md
	// §4.4 "oversize message cap configurable"). Falls back to 16MiB.
	MaxMessageSize uint64

	// OnError routes application panics/errors to the connection
	// manager's access/error log (spec.md §4.6, §7). May be nil.
	OnError ErrorReporter

	// AccessLog reports connect/disconnect lifecycle events back to the
	// connection manager's access logger (spec.md §4.6, grounded on
	// daphne/access.py's WSCONNECT/WSDISCONNECT lines). May be nil.
	AccessLog AccessLogFunc
}

// ErrorReporter mirrors http1.ErrorReporter; set by the connection
// manager to route application errors to the access/error log.
type ErrorReporter func(err error, stack []byte)

// AccessLogFunc reports one WebSocket lifecycle event (action is
// "connected" or "disconnected") along with the request path and the
// time the connection was accepted.
type AccessLogFunc func(action, path string, start time.Time)

// shutdownKey is the context key a graceful-shutdown signal channel is
// attached under (see WithShutdownSignal). Kept private to this
// package since connmanager is the only setter and protocol/websocket
// the only reader.
type shutdownKey struct{}

// WithShutdownSignal attaches ch to ctx: when ch is closed, a connected
// WebSocket sends a graceful close (code 1001, spec.md §4.6 invariant
// 4) instead of letting the resulting context cancellation surface as
// an application error closed with code 1011.
func WithShutdownSignal(ctx context.Context, ch <-chan struct{}) context.Context {
	return context.WithValue(ctx, shutdownKey{}, ch)
}

func shutdownSignal(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(shutdownKey{}).(<-chan struct{})
	return ch
}

func New(cfg *config.Config) *Handler {
	return &Handler{cfg: cfg, MaxMessageSize: 16 << 20}
}

func (h *Handler) Serve(ctx context.Context, client transport.Client, req http1.ParsedRequest, conn bridge.ConnInfo, app asgi.App) error {
	onErr := h.OnError
	key, ok := IsHandshake(req)
	if !ok {
		_ = http1.WriteSynthetic(client, req.HTTPVersion, 400, h.cfg.ServerName, nil, "")
		return asgierrors.ErrBadRequest
	}

	scope := bridge.BuildWebSocketScope(bridge.RequestLine{
		Method:      req.Method,
		Path:        req.Path,
		RawPath:     req.RawPath,
		QueryString: req.QueryString,
		Headers:     req.Headers,
		HTTPVersion: req.HTTPVersion,
	}, conn, h.cfg)

	cycle := bridge.New(scope)
	validator := &Validator{}
	cycle.SetValidator(validator)

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	appDone := make(chan error, 1)
	go func() {
		appDone <- runApp(cycleCtx, app, scope, cycle)
	}()

	cycle.Deliver(cycleCtx, asgi.Event{Type: asgi.TypeWebSocketConnect})

	handshakeTimer := time.NewTimer(h.cfg.Timeouts.WebSocketConnect)
	defer handshakeTimer.Stop()

	var resolveEvt asgi.Event
	select {
	case resolveEvt = <-cycle.Outbound():
	case <-handshakeTimer.C:
		cancel()
		_ = http1.WriteSynthetic(client, req.HTTPVersion, 403, h.cfg.ServerName, nil, "")
		return asgierrors.ErrHandshakeTimeout
	case err := <-appDone:
		cancel()
		_ = http1.WriteSynthetic(client, req.HTTPVersion, 403, h.cfg.ServerName, nil, "")
		return err
	}

	switch resolveEvt.Type {
	case asgi.TypeWebSocketAccept:
		if err := h.acceptHandshake(client, key, resolveEvt); err != nil {
			cancel()
			return err
		}
	case asgi.TypeWebSocketClose:
		_ = validator.Validate(resolveEvt)
		cancel()
		code := resolveEvt.Code
		if code == 0 {
			code = 1000
		}
		_ = http1.WriteSynthetic(client, req.HTTPVersion, 403, h.cfg.ServerName, nil, "")
		return nil
	default:
		cancel()
		return asgierrors.ErrProtocolViolation
	}

	connectedAt := time.Now()
	if h.AccessLog != nil {
		h.AccessLog("connected", req.Path, connectedAt)
	}

	err := h.runConnected(cycleCtx, cancel, client, cycle, validator, appDone, req.Leftover, onErr, shutdownSignal(ctx))

	if h.AccessLog != nil {
		h.AccessLog("disconnected", req.Path, connectedAt)
	}

	return err
}

func (h *Handler) acceptHandshake(client transport.Client, key string, ev asgi.Event) error {
	accept := ComputeAccept(key)

	headers := [][2]string{
		{"Upgrade", "websocket"},
		{"Connection", "Upgrade"},
		{"Sec-WebSocket-Accept", accept},
	}
	if ev.Subprotocol != "" {
		headers = append(headers, [2]string{"Sec-WebSocket-Protocol", ev.Subprotocol})
	}
	for _, hdr := range ev.Headers {
		headers = append(headers, [2]string{string(hdr.Name), string(hdr.Value)})
	}

	buf := []byte("HTTP/1.1 101 Switching Protocols\r\n")
	for _, hv := range headers {
		buf = append(buf, hv[0]...)
		buf = append(buf, ':', ' ')
		buf = append(buf, hv[1]...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)

	_, err := client.Write(buf)
	return err
}

func (h *Handler) runConnected(
	ctx context.Context,
	cancel context.CancelFunc,
	client transport.Client,
	cycle *bridge.Cycle,
	validator *Validator,
	appDone chan error,
	leftover []byte,
	onErr ErrorReporter,
	shutdown <-chan struct{},
) error {
	rd := newReader(client, leftover, h.MaxMessageSize)

	frameErrCh := make(chan error, 1)
	frames := make(chan Frame, 4)
	go readFrames(rd, frames, frameErrCh)

	lifetimeDeadline := time.Now().Add(h.cfg.Timeouts.WebSocket)

	var pingTicker *time.Ticker
	if h.cfg.Timeouts.PingInterval > 0 {
		pingTicker = time.NewTicker(h.cfg.Timeouts.PingInterval)
		defer pingTicker.Stop()
	}
	pingTimeoutTimer := time.NewTimer(h.cfg.Timeouts.PingTimeout)
	defer pingTimeoutTimer.Stop()

	var assembling []byte
	var assemblingOpcode Opcode
	appFinished := false
	closeSent := false

	deliverDisconnect := func(code int) {
		cycle.Disconnect(asgi.Event{Type: asgi.TypeWebSocketDisconnect, Code: code})
	}

	for {
		remaining := time.Until(lifetimeDeadline)
		if remaining <= 0 {
			_ = WriteClose(client, 1000)
			cancel()
			deliverDisconnect(1000)
			return waitAppClose(h, appDone, appFinished, onErr)
		}
		lifetimeTimer := time.NewTimer(remaining)

		select {
		case frame, ok := <-frames:
			lifetimeTimer.Stop()
			if !ok {
				cancel()
				deliverDisconnect(1006)
				return waitAppClose(h, appDone, appFinished, onErr)
			}
			pingTimeoutTimer.Reset(h.cfg.Timeouts.PingTimeout)
			if pingTicker != nil {
				pingTicker.Reset(h.cfg.Timeouts.PingInterval)
			}

			switch frame.Opcode {
			case OpPing:
				_ = WriteFrame(client, true, OpPong, frame.Payload)
			case OpPong:
			case OpClose:
				if !closeSent {
					_ = WriteClose(client, 1000)
				}
				cancel()
				deliverDisconnect(closeCodeOf(frame.Payload))
				return waitAppClose(h, appDone, appFinished, onErr)
			case OpText, OpBinary:
				assembling = append([]byte(nil), frame.Payload...)
				assemblingOpcode = frame.Opcode
				if frame.Fin {
					if err := deliverMessage(ctx, cycle, assemblingOpcode, assembling); err != nil {
						_ = WriteClose(client, 1002)
						cancel()
						deliverDisconnect(1002)
						return waitAppClose(h, appDone, appFinished, onErr)
					}
					assembling = nil
				}
			case OpContinuation:
				assembling = append(assembling, frame.Payload...)
				if uint64(len(assembling)) > h.MaxMessageSize {
					_ = WriteClose(client, 1009)
					cancel()
					deliverDisconnect(1009)
					return waitAppClose(h, appDone, appFinished, onErr)
				}
				if frame.Fin {
					if err := deliverMessage(ctx, cycle, assemblingOpcode, assembling); err != nil {
						_ = WriteClose(client, 1002)
						cancel()
						deliverDisconnect(1002)
						return waitAppClose(h, appDone, appFinished, onErr)
					}
					assembling = nil
				}
			}

		case err := <-frameErrCh:
			lifetimeTimer.Stop()
			if err == asgierrors.ErrOversizeMessage {
				_ = WriteClose(client, 1009)
			}
			cancel()
			deliverDisconnect(1006)
			return waitAppClose(h, appDone, appFinished, onErr)

		case ev := <-cycle.Outbound():
			lifetimeTimer.Stop()
			switch ev.Type {
			case asgi.TypeWebSocketSend:
				if closeSent {
					continue
				}
				if ev.HasText {
					if err := WriteFrame(client, true, OpText, []byte(ev.Text)); err != nil {
						cancel()
						return err
					}
				} else if ev.HasBytes {
					if err := WriteFrame(client, true, OpBinary, ev.Bytes); err != nil {
						cancel()
						return err
					}
				}
			case asgi.TypeWebSocketClose:
				code := ev.Code
				if code == 0 {
					code = 1000
				}
				_ = WriteClose(client, code)
				closeSent = true
				cancel()
				deliverDisconnect(code)
				return waitAppClose(h, appDone, appFinished, onErr)
			}

		case <-shutdown:
			lifetimeTimer.Stop()
			if !closeSent {
				_ = WriteClose(client, 1001)
				closeSent = true
			}
			cancel()
			deliverDisconnect(1001)
			return waitAppClose(h, appDone, appFinished, onErr)

		case err := <-appDone:
			lifetimeTimer.Stop()
			appFinished = true
			if err != nil && onErr != nil {
				onErr(err, debug.Stack())
			}
			if !closeSent {
				code := 1000
				if err != nil {
					code = 1011
				}
				_ = WriteClose(client, code)
			}
			cancel()
			return nil

		case <-pingTimeoutTimer.C:
			lifetimeTimer.Stop()
			_ = WriteClose(client, 1011)
			cancel()
			deliverDisconnect(1011)
			return waitAppClose(h, appDone, appFinished, onErr)

		case <-pingTickerC(pingTicker):
			lifetimeTimer.Stop()
			_ = WriteFrame(client, true, OpPing, []byte("ping"))

		case <-lifetimeTimer.C:
			_ = WriteClose(client, 1000)
			cancel()
			deliverDisconnect(1000)
			return waitAppClose(h, appDone, appFinished, onErr)
		}
	}
}

func pingTickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func waitAppClose(h *Handler, appDone chan error, already bool, onErr ErrorReporter) error {
	if already {
		return nil
	}
	select {
	case err := <-appDone:
		if err != nil && onErr != nil {
			onErr(err, debug.Stack())
		}
	case <-time.After(h.cfg.Timeouts.ApplicationClose):
	}
	return nil
}

func deliverMessage(ctx context.Context, cycle *bridge.Cycle, opcode Opcode, payload []byte) error {
	ev := asgi.Event{Type: asgi.TypeWebSocketReceive}
	if opcode == OpText {
		if !utf8.Valid(payload) {
			return asgierrors.ErrBadFrame
		}
		ev.Text = string(payload)
		ev.HasText = true
	} else {
		ev.Bytes = payload
		ev.HasBytes = true
	}
	cycle.Deliver(ctx, ev)
	return nil
}

func closeCodeOf(payload []byte) int {
	if len(payload) < 2 {
		return 1005
	}
	return int(payload[0])<<8 | int(payload[1])
}

func readFrames(rd *reader, out chan<- Frame, errc chan<- error) {
	defer close(out)
	for {
		frame, err := rd.ReadFrame()
		if err != nil {
			errc <- err
			return
		}
		out <- frame
	}
}

func runApp(ctx context.Context, app asgi.App, scope asgi.Scope, cycle *bridge.Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asgierrors.ErrProtocolViolation
		}
	}()
	return app(ctx, scope, cycle, cycle)
}
