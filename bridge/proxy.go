package bridge

import (
	"strconv"
	"strings"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/config"
)

// ApplyProxyHeaders rewrites scope.Client, scope.Scheme and scope.Client.Port
// from the configured proxy headers, per spec.md §4.5 and the recovered
// daphne/utils.py parse_x_forwarded_for behaviour (SPEC_FULL.md §5.5).
//
// The policy is "most remote leftmost, when present" for the comma-split
// X-Forwarded-For-style host header: the first value is the original
// client as seen by the closest-to-origin proxy that appended its own
// address, which is the value most deployments actually want (spec.md §9
// preserves this as an open, configurable question — HostHeader's first
// token is what ApplyProxyHeaders uses).
func ApplyProxyHeaders(scope *asgi.Scope, cfg config.ProxyHeaders) {
	if !cfg.Enabled {
		return
	}

	if !trustedPeer(scope.Client.Host, cfg.TrustedHosts) {
		return
	}

	if host, ok := scope.Headers.Get(cfg.HostHeader); ok {
		if addr := firstForwarded(string(host)); addr != "" {
			scope.Client.Host = stripBrackets(addr)
		}
	}

	if cfg.PortHeader != "" {
		if port, ok := scope.Headers.Get(cfg.PortHeader); ok {
			if p, err := strconv.Atoi(strings.TrimSpace(string(port))); err == nil {
				scope.Client.Port = p
			}
		}
	}

	if proto, ok := scope.Headers.Get("X-Forwarded-Proto"); ok {
		switch strings.ToLower(strings.TrimSpace(string(proto))) {
		case "https":
			scope.Scheme = upgradeScheme(scope.Scheme)
		case "http":
			scope.Scheme = downgradeScheme(scope.Scheme)
		}
	}
}

func upgradeScheme(s string) string {
	switch s {
	case "ws":
		return "wss"
	default:
		return "https"
	}
}

func downgradeScheme(s string) string {
	switch s {
	case "wss":
		return "ws"
	default:
		return "http"
	}
}

// firstForwarded extracts the leftmost token of a comma-separated
// X-Forwarded-For value, stripping surrounding whitespace.
func firstForwarded(value string) string {
	if comma := strings.IndexByte(value, ','); comma != -1 {
		value = value[:comma]
	}
	return strings.TrimSpace(value)
}

// stripBrackets unwraps an IPv6 literal of the form "[::1]" into "::1",
// leaving anything else (IPv4, hostnames) untouched (spec.md §4.5: "IPv6
// literals in brackets are accepted").
func stripBrackets(addr string) string {
	if len(addr) >= 2 && addr[0] == '[' && addr[len(addr)-1] == ']' {
		return addr[1 : len(addr)-1]
	}
	return addr
}

func trustedPeer(peer string, trusted []string) bool {
	for _, t := range trusted {
		if t == "*" || t == peer {
			return true
		}
	}
	return false
}
