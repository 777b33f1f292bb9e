// Package websocket implements the WebSocket protocol adapter (spec.md
// §4.4): the RFC 6455 handshake delayed on the application's decision,
// the frame codec, ping/pong keepalive, and the close handshake.
package websocket

import (
	"crypto/sha1"
	"encoding/base64"

	"github.com/webasgi/asgid/protocol/http1"
)

// acceptMagic is the fixed GUID RFC 6455 §1.3 mixes into the handshake
// key to produce Sec-WebSocket-Accept.
const acceptMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ComputeAccept derives the Sec-WebSocket-Accept header value from the
// client's Sec-WebSocket-Key.
func ComputeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptMagic))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// IsHandshake reports whether req carries the headers RFC 6455 requires
// of an opening handshake (spec.md §3 "Created on receipt of an upgrade
// request whose headers match RFC 6455").
func IsHandshake(req http1.ParsedRequest) (key string, ok bool) {
	k, found := req.Headers.Get("Sec-WebSocket-Key")
	if !found || len(k) == 0 {
		return "", false
	}
	if v, found := req.Headers.Get("Sec-WebSocket-Version"); !found || string(v) != "13" {
		return "", false
	}
	return string(k), true
}
