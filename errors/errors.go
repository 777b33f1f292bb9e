// Package errors defines the sentinel errors shared across the protocol
// adapters, the bridge and the connection manager. They are matched by
// identity (errors.Is), never by string comparison.
package errors

import "errors"

var (
	// ErrBadRequest marks malformed input from the peer at the wire level
	// (bad request line, invalid header grammar, non-ASCII request target).
	ErrBadRequest = errors.New("bad request")
	// ErrMethodNotImplemented marks a request-line method token the server
	// doesn't recognize.
	ErrMethodNotImplemented = errors.New("request method is not supported")
	// ErrURITooLong is returned when the request-line buffer overflows its
	// configured ceiling.
	ErrURITooLong = errors.New("request-uri too long")
	// ErrTooManyHeaders is returned when the number of header fields exceeds
	// the configured ceiling.
	ErrTooManyHeaders = errors.New("too many headers")
	// ErrHeaderFieldsTooLarge is returned when the total size occupied by
	// header fields exceeds the configured ceiling.
	ErrHeaderFieldsTooLarge = errors.New("header fields too large")
	// ErrBodyTooLarge is returned when a request or chunked body exceeds the
	// configured ceiling.
	ErrBodyTooLarge = errors.New("body too large")
	// ErrUnsupportedProtocol is returned for an HTTP version token the
	// server doesn't speak.
	ErrUnsupportedProtocol = errors.New("protocol is not supported")

	// ErrCloseConnection is an internal signal, never surfaced to a peer,
	// indicating the connection must be torn down without a response.
	ErrCloseConnection = errors.New("connection must be closed")

	// ErrProtocolViolation marks an ASGI application breaking the send-side
	// event-order contract (e.g. two http.response.start events).
	ErrProtocolViolation = errors.New("application protocol violation")
	// ErrAlreadyResponded is returned when the application attempts to send
	// http.response.start twice for the same cycle.
	ErrAlreadyResponded = errors.New("http.response.start already sent")
	// ErrNotYetResponded is returned when the application sends
	// http.response.body before http.response.start.
	ErrNotYetResponded = errors.New("http.response.start not sent yet")

	// ErrDisconnected is returned by Receive/Send once the connection has
	// been torn down; it is never itself sent to the application, only used
	// internally to unblock pending calls.
	ErrDisconnected = errors.New("connection disconnected")
	// ErrCancelled is returned by Receive/Send when the owning application
	// task has been cancelled (timeout, shutdown, transport loss).
	ErrCancelled = errors.New("application task cancelled")

	// ErrHandshakeTimeout marks a WebSocket handshake that wasn't resolved
	// by the application within the configured deadline.
	ErrHandshakeTimeout = errors.New("websocket handshake timeout")
	// ErrOversizeMessage marks a WebSocket message exceeding the configured
	// frame/message size cap.
	ErrOversizeMessage = errors.New("websocket message too large")
	// ErrBadFrame marks a malformed or unmasked WebSocket frame.
	ErrBadFrame = errors.New("malformed websocket frame")

	// ErrShutdown is an internal signal used to unwind the accept loop
	// during a graceful server shutdown.
	ErrShutdown = errors.New("graceful shutdown")

	// ErrHijackConn marks a connection taken over outside of the protocol
	// adapters; kept for parity with the transport layer's hijack escape
	// hatch, unused by the ASGI core itself.
	ErrHijackConn = errors.New("connection hijacked")
)
