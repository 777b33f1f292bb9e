package bridge

import (
	"strings"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/config"
)

// ConnInfo is the subset of connection-manager state (spec.md §3
// "Connection") the bridge needs to stamp into every scope it builds.
type ConnInfo struct {
	ClientHost string
	ClientPort int
	ServerHost string
	ServerPort int
	TLS        bool
}

// RequestLine is what the HTTP/1.1 and HTTP/2 adapters hand to the
// bridge after parsing a request's start-line and headers — everything
// needed to build an HTTP scope (spec.md §4.2 "Scope construction").
type RequestLine struct {
	Method      string
	Path        string // percent-decoded
	RawPath     []byte // undecoded, as received
	QueryString []byte
	Headers     asgi.Headers
	HTTPVersion string
}

// rootPathHeader is consumed by the server and never forwarded to the
// application (spec.md §4.2, §6, §8). Matching is case-insensitive, as
// for every other header.
const rootPathHeader = "Daphne-Root-Path"

// BuildHTTPScope constructs an immutable HTTP scope from a parsed
// request line, the connection's address/TLS state, and configuration
// (spec.md §4.2). It consumes the Daphne-Root-Path header (URL-encoded
// ASCII, takes precedence over config.RootPath) and strips its value as
// a path prefix, and applies proxy-header rewrites when enabled.
func BuildHTTPScope(rl RequestLine, conn ConnInfo, cfg *config.Config) asgi.Scope {
	scheme := "http"
	if conn.TLS {
		scheme = "https"
	}

	rootPath := cfg.RootPath
	headers := make(asgi.Headers, 0, len(rl.Headers))
	for _, h := range rl.Headers {
		if asgi.EqualFold(h.Name, rootPathHeader) {
			if decoded, ok := percentDecodeASCII(string(h.Value)); ok {
				rootPath = decoded
			}
			continue
		}
		headers = append(headers, h)
	}

	path := rl.Path
	if rootPath != "" && strings.HasPrefix(path, rootPath) {
		path = path[len(rootPath):]
		if path == "" {
			path = "/"
		}
	}

	scope := asgi.Scope{
		Type:        asgi.ScopeHTTP,
		ASGIVersion: "3.0",
		HTTPVersion: rl.HTTPVersion,
		Method:      rl.Method,
		Scheme:      scheme,
		Path:        path,
		RawPath:     rl.RawPath,
		QueryString: rl.QueryString,
		RootPath:    rootPath,
		Headers:     headers,
		Client:      asgi.Addr{Host: conn.ClientHost, Port: conn.ClientPort},
		Server:      asgi.Addr{Host: conn.ServerHost, Port: conn.ServerPort},
		TLS:         conn.TLS,
	}

	if cfg.ProxyHeaders.Enabled {
		ApplyProxyHeaders(&scope, cfg.ProxyHeaders)
	}

	return scope
}

// BuildWebSocketScope builds a websocket scope from the same request
// line an upgrade request produced, per spec.md §4.4 step 1: identical
// keys to an HTTP scope minus Method, plus Subprotocols drawn from
// Sec-WebSocket-Protocol.
func BuildWebSocketScope(rl RequestLine, conn ConnInfo, cfg *config.Config) asgi.Scope {
	scope := BuildHTTPScope(rl, conn, cfg)
	scope.Type = asgi.ScopeWebSocket
	scope.Method = ""

	if conn.TLS {
		scope.Scheme = "wss"
	} else {
		scope.Scheme = "ws"
	}

	if proto, ok := scope.Headers.Get("Sec-WebSocket-Protocol"); ok {
		scope.Subprotocols = splitCommaList(string(proto))
	}

	return scope
}

func splitCommaList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// percentDecodeASCII decodes a %XX-escaped ASCII string (used only for
// the Daphne-Root-Path header value, which spec.md §6 specifies as
// "URL-encoded ASCII"). Returns ok=false on malformed escapes.
func percentDecodeASCII(s string) (string, bool) {
	if strings.IndexByte(s, '%') == -1 {
		return s, true
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		hi, hok := hexDigit(s[i+1])
		lo, lok := hexDigit(s[i+2])
		if !hok || !lok {
			return "", false
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return string(out), true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
