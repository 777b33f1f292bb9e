// Package asgi defines the wire-independent contract between the protocol
// adapters (protocol/http1, protocol/http2, protocol/websocket) and an
// application task: the event vocabulary, the scope record and the
// Receive/Send endpoints (spec.md §4.5, §6).
//
// Every event is a tagged union discriminated by Type, matching the ASGI
// 3.0 specification verbatim — field names and types are bit-exact so a
// Go application callable sees the same shape a Python one would.
package asgi

import "github.com/indigo-web/utils/strcomp"

// Type discriminates the concrete event carried by Event.
type Type string

const (
	TypeHTTPRequest        Type = "http.request"
	TypeHTTPDisconnect     Type = "http.disconnect"
	TypeHTTPResponseStart  Type = "http.response.start"
	TypeHTTPResponseBody   Type = "http.response.body"
	TypeWebSocketConnect   Type = "websocket.connect"
	TypeWebSocketAccept    Type = "websocket.accept"
	TypeWebSocketReceive   Type = "websocket.receive"
	TypeWebSocketSend      Type = "websocket.send"
	TypeWebSocketClose     Type = "websocket.close"
	TypeWebSocketDisconnect Type = "websocket.disconnect"
)

// Header is a single (name, value) pair as it travels across the ASGI
// boundary: both sides are byte strings, never runes. Names arriving from
// the network are lowercased (spec.md §4.2); names sent by the
// application are emitted with whatever case was supplied (spec.md §8).
type Header struct {
	Name  []byte
	Value []byte
}

// Headers is an ordered list of Header pairs. Order is preserved in both
// directions, per spec.md §8's round-trip invariant.
type Headers []Header

// Get returns the first value for name (case-insensitively), and whether
// it was found.
func (h Headers) Get(name string) ([]byte, bool) {
	for _, kv := range h {
		if strcomp.EqualFold(kv.Name, name) {
			return kv.Value, true
		}
	}
	return nil, false
}

// EqualFold reports whether b, interpreted as ASCII, equals s
// case-insensitively — used wherever a header name needs matching
// against a known constant without allocating a string copy.
func EqualFold(b []byte, s string) bool {
	return strcomp.EqualFold(b, s)
}

// Event is the tagged union every message crossing the bridge (spec.md
// §4.5) is built from. Only the fields relevant to Type are populated;
// the zero value of the others is ignored by both sides.
type Event struct {
	Type Type

	// http.request / http.disconnect
	Body     []byte
	MoreBody bool

	// http.response.start
	Status  int
	Headers Headers
	Trailers bool

	// websocket.connect carries no payload beyond the scope itself.

	// websocket.accept
	Subprotocol string

	// websocket.receive / websocket.send
	Text       string
	Bytes      []byte
	HasText    bool
	HasBytes   bool

	// websocket.close / websocket.disconnect
	Code int
}
