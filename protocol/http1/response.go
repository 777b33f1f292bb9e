package http1

import (
	"strconv"

	"github.com/webasgi/asgid/asgi"
	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/status"
	"github.com/webasgi/asgid/transport"
)

// respState implements the response state machine of spec.md §4.2:
// AWAITING_START -> STREAMING_BODY -> DONE.
type respState uint8

const (
	AwaitingStart respState = iota
	StreamingBody
	Done
)

// ResponseWriter drives the HTTP/1.1 response side of one request cycle.
// Exactly one goroutine — the one running the protocol adapter's cycle
// loop — ever touches it; the application only ever reaches it by
// emitting events through a bridge.Cycle.
type ResponseWriter struct {
	client     transport.Client
	serverName string

	state    respState
	chunked  bool
	wroteAny bool
	keepAlive bool
}

func NewResponseWriter(client transport.Client, serverName string) *ResponseWriter {
	return &ResponseWriter{client: client, serverName: serverName}
}

func (w *ResponseWriter) State() respState { return w.state }

// WroteAnyBytes reports whether any bytes have reached the wire yet —
// the connection manager consults this to decide whether an application
// error can still be converted into a synthetic 500 (spec.md §4.6, §7).
func (w *ResponseWriter) WroteAnyBytes() bool { return w.wroteAny }

// Start writes the status line and headers for http.response.start
// (spec.md §4.2). keepAlive selects the Connection header written with
// the head: keep-alive when true, close otherwise.
func (w *ResponseWriter) Start(httpVersion string, code int, headers asgi.Headers, keepAlive bool) error {
	if w.state != AwaitingStart {
		return asgierrors.ErrAlreadyResponded
	}
	if !status.Valid(code) {
		return asgierrors.ErrProtocolViolation
	}

	w.keepAlive = keepAlive

	buf := make([]byte, 0, 256)
	buf = append(buf, "HTTP/"...)
	buf = append(buf, httpVersion...)
	buf = append(buf, ' ')
	buf = appendInt(buf, code)
	buf = append(buf, ' ')
	buf = append(buf, status.Text(status.Code(code))...)
	buf = append(buf, "\r\n"...)

	hasContentLength, hasTransferEncoding := false, false
	for _, h := range headers {
		if asgi.EqualFold(h.Name, "content-length") {
			hasContentLength = true
		}
		if asgi.EqualFold(h.Name, "transfer-encoding") {
			hasTransferEncoding = true
		}
		buf = appendHeader(buf, h.Name, h.Value)
	}

	if w.serverName != "" {
		buf = appendHeader(buf, []byte("Server"), []byte(w.serverName))
	}

	if !hasContentLength && !hasTransferEncoding {
		w.chunked = true
		buf = appendHeader(buf, []byte("Transfer-Encoding"), []byte("chunked"))
	}

	if keepAlive {
		buf = appendHeader(buf, []byte("Connection"), []byte("keep-alive"))
	} else {
		buf = appendHeader(buf, []byte("Connection"), []byte("close"))
	}

	buf = append(buf, "\r\n"...)

	if _, err := w.client.Write(buf); err != nil {
		return err
	}

	w.wroteAny = true
	w.state = StreamingBody
	return nil
}

// Body writes one http.response.body event's payload. When more is
// false, the chunked terminator (if any) is written and the state
// becomes Done.
func (w *ResponseWriter) Body(data []byte, more bool) error {
	if w.state == AwaitingStart {
		return asgierrors.ErrNotYetResponded
	}
	if w.state == Done {
		return asgierrors.ErrProtocolViolation
	}

	if len(data) > 0 {
		if w.chunked {
			if err := w.writeChunk(data); err != nil {
				return err
			}
		} else if _, err := w.client.Write(data); err != nil {
			return err
		}
	}

	if !more {
		if w.chunked {
			if _, err := w.client.Write([]byte("0\r\n\r\n")); err != nil {
				return err
			}
		}
		w.state = Done
	}

	return nil
}

func (w *ResponseWriter) writeChunk(data []byte) error {
	header := strconv.FormatInt(int64(len(data)), 16)
	buf := make([]byte, 0, len(header)+len(data)+4)
	buf = append(buf, header...)
	buf = append(buf, "\r\n"...)
	buf = append(buf, data...)
	buf = append(buf, "\r\n"...)
	_, err := w.client.Write(buf)
	return err
}

// KeepAlive reports whether the connection is eligible for another
// request cycle once Done is reached.
func (w *ResponseWriter) KeepAlive() bool {
	return w.state == Done && w.keepAlive
}

// WriteSynthetic writes a complete, self-contained error response — used
// for wire-level and protocol-violation failures where no ASGI cycle (or
// no successful one) exists to drive the normal Start/Body path (spec.md
// §7, recovered daphne `basic_error` template, SPEC_FULL.md §5.2).
func WriteSynthetic(client transport.Client, httpVersion string, code status.Code, serverName string, extraHeaders [][2]string, body string) error {
	buf := make([]byte, 0, 256+len(body))
	buf = append(buf, "HTTP/"...)
	buf = append(buf, httpVersion...)
	buf = append(buf, ' ')
	buf = appendInt(buf, int(code))
	buf = append(buf, ' ')
	buf = append(buf, status.Text(code)...)
	buf = append(buf, "\r\n"...)
	buf = appendHeader(buf, []byte("Content-Type"), []byte("text/plain; charset=utf-8"))
	buf = appendHeader(buf, []byte("Content-Length"), []byte(strconv.Itoa(len(body))))
	buf = appendHeader(buf, []byte("Connection"), []byte("close"))
	if serverName != "" {
		buf = appendHeader(buf, []byte("Server"), []byte(serverName))
	}
	for _, h := range extraHeaders {
		buf = appendHeader(buf, []byte(h[0]), []byte(h[1]))
	}
	buf = append(buf, "\r\n"...)
	buf = append(buf, body...)

	_, err := client.Write(buf)
	return err
}

func appendHeader(buf, name, value []byte) []byte {
	buf = append(buf, name...)
	buf = append(buf, ':', ' ')
	buf = append(buf, value...)
	buf = append(buf, "\r\n"...)
	return buf
}

func appendInt(buf []byte, n int) []byte {
	return append(buf, strconv.Itoa(n)...)
}
