package asgi

import "net"

// ScopeType discriminates an HTTP scope from a WebSocket scope — the two
// shapes the bridge ever constructs (spec.md §4.2, §4.4).
type ScopeType string

const (
	ScopeHTTP      ScopeType = "http"
	ScopeWebSocket ScopeType = "websocket"
)

// Scope is the immutable per-connection(-cycle) record the application
// receives as its first argument. It is built once by the bridge
// (spec.md §4.5) and never mutated afterwards — every field the
// application reads is a snapshot taken at cycle-start.
type Scope struct {
	Type        ScopeType
	ASGIVersion string // always "3.0"

	HTTPVersion string // "1.0", "1.1" or "2"
	Method      string // empty for websocket scopes
	Scheme      string // "http", "https", "ws" or "wss"

	Path       string // percent-decoded, UTF-8
	RawPath    []byte // undecoded bytes, as received
	QueryString []byte // raw bytes, undecoded, after '?'

	RootPath string

	Headers Headers

	Client Addr
	Server Addr

	TLS bool

	// Subprotocols is populated only for websocket scopes, from
	// Sec-WebSocket-Protocol (spec.md §4.4).
	Subprotocols []string
}

// Addr is a (host, port) pair as ASGI represents client/server addresses:
// a two-element list in the wire encoding, a struct here.
type Addr struct {
	Host string
	Port int
}

// String renders the address the way net.JoinHostPort would, accepting
// bracketed IPv6 literals already embedded in Host.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, itoa(a.Port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
