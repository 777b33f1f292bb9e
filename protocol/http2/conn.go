package http2

import (
	"bytes"
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/protocol/http1"
	"github.com/webasgi/asgid/transport"
	"golang.org/x/net/http2/hpack"
)

// ErrorReporter routes application errors to the connection manager's
// logger, matching protocol/http1.ErrorReporter (spec.md §4.6, §7).
type ErrorReporter func(err error, stack []byte)

// AccessLogFunc reports one completed stream's method/path/status/size
// back to the connection manager's access logger, matching
// protocol/http1.AccessLogFunc (spec.md §4.6).
type AccessLogFunc func(method, path string, statusCode int, size int64, start time.Time)

const defaultInitialWindow = 65535

// Conn drives one HTTP/2 connection end to end (spec.md §4.3): ALPN has
// already selected "h2" by the time this runs. Server MUST NOT use
// PUSH_PROMISE, matching spec.md's explicit prohibition.
type Conn struct {
	client transport.Client
	cfg    *config.Config
	conn   bridge.ConnInfo
	app    asgi.App
	onErr  ErrorReporter
	onAccess AccessLogFunc

	writeMu sync.Mutex
	encoder *hpack.Encoder
	encBuf  bytes.Buffer

	decoder *hpack.Decoder

	streamsMu sync.Mutex
	streams   map[uint32]*streamState

	connWindow     int64
	lastStreamID   uint32
	maxConcurrent  uint32
}

func NewConn(client transport.Client, cfg *config.Config, conn bridge.ConnInfo, app asgi.App, onErr ErrorReporter, onAccess AccessLogFunc) *Conn {
	c := &Conn{
		client:        client,
		cfg:           cfg,
		conn:          conn,
		app:           app,
		onErr:         onErr,
		onAccess:      onAccess,
		streams:       make(map[uint32]*streamState),
		connWindow:    defaultInitialWindow,
		maxConcurrent: 250,
	}
	c.encoder = hpack.NewEncoder(&c.encBuf)
	c.decoder = hpack.NewDecoder(4096, nil)
	return c
}

// Serve consumes leftover (bytes already read past the client preface
// detection, if any) and runs the connection until it errors, the peer
// sends GOAWAY, or ctx is cancelled.
func (c *Conn) Serve(ctx context.Context, leftover []byte) error {
	if err := c.handshake(); err != nil {
		return err
	}

	reader := &frameSource{client: c.client, pending: leftover}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		default:
		}

		fh, err := ReadFrameHeader(reader)
		if err != nil {
			c.shutdown()
			return err
		}

		payload, err := reader.readN(int(fh.Length))
		if err != nil {
			c.shutdown()
			return err
		}

		if err := c.handleFrame(ctx, fh, payload); err != nil {
			if err == errGoAway {
				c.shutdown()
				return nil
			}
			c.shutdown()
			return err
		}
	}
}

func (c *Conn) handshake() error {
	settings := EncodeSettings(map[SettingID]uint32{
		SettingMaxConcurrentStreams: c.maxConcurrent,
		SettingInitialWindowSize:    defaultInitialWindow,
	})
	return WriteFrame(c.client, FrameSettings, 0, 0, settings)
}

var errGoAway = asgierrors.ErrShutdown

func (c *Conn) handleFrame(ctx context.Context, fh FrameHeader, payload []byte) error {
	switch fh.Type {
	case FrameSettings:
		if fh.Flags&FlagAck == 0 {
			if _, err := ParseSettings(payload); err != nil {
				return err
			}
			return WriteFrame(c.client, FrameSettings, FlagAck, 0, nil)
		}
		return nil

	case FramePing:
		if fh.Flags&FlagAck == 0 {
			return WriteFrame(c.client, FramePing, FlagAck, 0, payload)
		}
		return nil

	case FrameWindowUpdate:
		inc, err := ParseWindowUpdate(payload)
		if err != nil {
			return err
		}
		if fh.StreamID == 0 {
			c.connWindow += int64(inc)
		} else if st := c.getStream(fh.StreamID); st != nil {
			st.window += int64(inc)
		}
		return nil

	case FrameHeaders:
		return c.onHeaders(ctx, fh, payload)

	case FrameContinuation:
		return c.onContinuation(ctx, fh, payload)

	case FrameData:
		return c.onData(ctx, fh, payload)

	case FrameRSTStream:
		c.closeStream(fh.StreamID)
		return nil

	case FrameGoAway:
		return errGoAway

	case FramePriority:
		return nil

	default:
		return nil
	}
}

func (c *Conn) onHeaders(ctx context.Context, fh FrameHeader, payload []byte) error {
	st := &streamState{id: fh.StreamID, headerBuf: append([]byte(nil), payload...)}
	st.endHeaders = fh.Flags&FlagEndHeaders != 0
	st.endStream = fh.Flags&FlagEndStream != 0

	c.streamsMu.Lock()
	c.streams[fh.StreamID] = st
	c.streamsMu.Unlock()

	if st.endHeaders {
		return c.openStream(ctx, st)
	}
	return nil
}

func (c *Conn) onContinuation(ctx context.Context, fh FrameHeader, payload []byte) error {
	st := c.getStream(fh.StreamID)
	if st == nil {
		return asgierrors.ErrProtocolViolation
	}
	st.headerBuf = append(st.headerBuf, payload...)
	if fh.Flags&FlagEndHeaders != 0 {
		st.endHeaders = true
		return c.openStream(ctx, st)
	}
	return nil
}

func (c *Conn) openStream(ctx context.Context, st *streamState) error {
	rl, err := decodeHeaders(st.headerBuf, c.decoder)
	if err != nil {
		return c.resetStream(st.id, 0x1) // PROTOCOL_ERROR
	}
	st.headerBuf = nil
	st.window = defaultInitialWindow

	scope := bridge.BuildHTTPScope(rl, c.conn, c.cfg)
	cycle := bridge.New(scope)
	cycle.SetValidator(&http1.Validator{})
	st.cycle = cycle
	st.method = rl.Method
	st.path = rl.Path
	st.start = time.Now()

	cycleCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.appDone = make(chan error, 1)

	go func() {
		st.appDone <- runApp(cycleCtx, c.app, scope, cycle)
	}()

	if st.endStream {
		cycle.Deliver(cycleCtx, asgi.Event{Type: asgi.TypeHTTPRequest, MoreBody: false})
	}

	go c.driveStream(cycleCtx, st)

	return nil
}

func (c *Conn) onData(ctx context.Context, fh FrameHeader, payload []byte) error {
	st := c.getStream(fh.StreamID)
	if st == nil {
		return nil
	}

	endStream := fh.Flags&FlagEndStream != 0
	if len(payload) > 0 || endStream {
		st.cycle.Deliver(ctx, asgi.Event{Type: asgi.TypeHTTPRequest, Body: payload, MoreBody: !endStream})
	}

	if len(payload) > 0 {
		_ = WriteFrame(c.client, FrameWindowUpdate, 0, fh.StreamID, EncodeWindowUpdate(uint32(len(payload))))
		_ = WriteFrame(c.client, FrameWindowUpdate, 0, 0, EncodeWindowUpdate(uint32(len(payload))))
	}

	return nil
}

// driveStream relays application output events into HEADERS/DATA frames
// until the cycle completes or the connection shuts down (spec.md §4.2
// contract, scoped per stream by §4.3).
func (c *Conn) driveStream(ctx context.Context, st *streamState) {
	defer c.closeStream(st.id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-st.cycle.Outbound():
			if !ok {
				return
			}
			switch ev.Type {
			case asgi.TypeHTTPResponseStart:
				if st.respState != phaseAwaitingStart {
					continue
				}
				st.respState = phaseStreaming
				st.status = ev.Status
				c.writeHeaders(st.id, ev.Status, ev.Headers)
			case asgi.TypeHTTPResponseBody:
				if st.respState == phaseDone {
					continue
				}
				st.size += int64(len(ev.Body))
				c.writeData(st.id, ev.Body, ev.MoreBody)
				if !ev.MoreBody {
					st.respState = phaseDone
					return
				}
			}
		case err := <-st.appDone:
			// An event the application queued just before returning is
			// relayed before the stream is judged finished.
			select {
			case ev := <-st.cycle.Outbound():
				if ev.Type == asgi.TypeHTTPResponseStart && st.respState == phaseAwaitingStart {
					st.respState, st.status = phaseStreaming, ev.Status
					c.writeHeaders(st.id, ev.Status, ev.Headers)
				} else if ev.Type == asgi.TypeHTTPResponseBody && st.respState == phaseStreaming {
					st.size += int64(len(ev.Body))
					c.writeData(st.id, ev.Body, ev.MoreBody)
					if !ev.MoreBody {
						st.respState = phaseDone
					}
				}
			default:
			}
			if st.respState != phaseDone {
				if err != nil && c.onErr != nil {
					c.onErr(err, debug.Stack())
				}
				if st.respState == phaseAwaitingStart {
					st.status = 500
					c.writeHeaders(st.id, 500, nil)
				}
				c.writeData(st.id, nil, false)
			}
			return
		}
	}
}

func (c *Conn) writeHeaders(streamID uint32, status int, headers asgi.Headers) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.encBuf.Reset()
	_ = encodeResponseHeaders(c.encoder, status, headers, c.cfg.ServerName)
	_ = WriteFrame(c.client, FrameHeaders, FlagEndHeaders, streamID, c.encBuf.Bytes())
}

func (c *Conn) writeData(streamID uint32, body []byte, more bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	flags := uint8(0)
	if !more {
		flags = FlagEndStream
	}
	_ = WriteFrame(c.client, FrameData, flags, streamID, body)
}

func (c *Conn) resetStream(streamID uint32, code uint32) error {
	c.writeMu.Lock()
	err := WriteFrame(c.client, FrameRSTStream, 0, streamID, EncodeRSTStream(code))
	c.writeMu.Unlock()
	c.closeStream(streamID)
	return err
}

func (c *Conn) getStream(id uint32) *streamState {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return c.streams[id]
}

func (c *Conn) closeStream(id uint32) {
	c.streamsMu.Lock()
	st, ok := c.streams[id]
	delete(c.streams, id)
	c.streamsMu.Unlock()

	if ok && st.cancel != nil {
		st.cancel()
	}
	if ok && c.onAccess != nil && st.method != "" {
		status := st.status
		if status == 0 {
			status = 500
		}
		c.onAccess(st.method, st.path, status, st.size, st.start)
	}
}

// shutdown cancels every outstanding stream's application task with
// http.disconnect (spec.md §4.3: "On GOAWAY or connection error, all
// outstanding application tasks are cancelled with http.disconnect").
func (c *Conn) shutdown() {
	c.streamsMu.Lock()
	streams := make([]*streamState, 0, len(c.streams))
	for _, st := range c.streams {
		streams = append(streams, st)
	}
	c.streams = make(map[uint32]*streamState)
	c.streamsMu.Unlock()

	for _, st := range streams {
		if st.cycle != nil {
			st.cycle.Disconnect(asgi.Event{Type: asgi.TypeHTTPDisconnect})
			st.cycle.Close()
		}
		if st.cancel != nil {
			st.cancel()
		}
	}
}

// frameSource adapts transport.Client's chunked Read into an io.Reader
// a frame decoder can pull exact byte counts from.
type frameSource struct {
	client  transport.Client
	pending []byte
}

func (f *frameSource) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		chunk, err := f.client.Read()
		if err != nil {
			return 0, err
		}
		f.pending = chunk
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *frameSource) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := f.Read(buf[got:])
		if err != nil {
			return nil, err
		}
		got += m
	}
	return buf, nil
}
