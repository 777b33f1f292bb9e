package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/webasgi/asgid/server"
)

// parseTwistedEndpoint parses a single -e/--endpoint descriptor in the
// abbreviated Twisted strports grammar Daphne accepts
// (daphne/endpoints.py build_endpoint_description_strings), e.g.
// "tcp:port=8443:interface=0.0.0.0" or "unix:/run/asgi.sock:mode=660".
// Only the subset of keys asgi-go understands is used; any other key,
// and any positional field after the first, is ignored.
func parseTwistedEndpoint(desc string) (server.EndpointDescriptor, error) {
	parts := strings.Split(desc, ":")
	if len(parts) == 0 {
		return server.EndpointDescriptor{}, fmt.Errorf("endpoint: empty descriptor")
	}

	kind := parts[0]
	args := map[string]string{}
	positional := []string{}

	for _, part := range parts[1:] {
		if kv := strings.SplitN(part, "=", 2); len(kv) == 2 {
			args[kv[0]] = kv[1]
		} else if part != "" {
			positional = append(positional, part)
		}
	}

	switch kind {
	case "tcp", "ssl":
		port := args["port"]
		if port == "" && len(positional) > 0 {
			port = positional[0]
		}
		if port == "" {
			return server.EndpointDescriptor{}, fmt.Errorf("endpoint %q: missing port", desc)
		}
		iface := args["interface"]
		if iface == "" {
			iface = "0.0.0.0"
		}

		d := server.EndpointDescriptor{Kind: server.EndpointTCP, Addr: iface + ":" + port}
		if kind == "ssl" {
			cert, err := tls.LoadX509KeyPair(args["certKey"], args["privateKey"])
			if err != nil {
				return server.EndpointDescriptor{}, fmt.Errorf("endpoint %q: %w", desc, err)
			}
			d.TLS = []tls.Certificate{cert}
		} else if args["reuseport"] == "1" {
			d.ReusePort = true
		}
		return d, nil

	case "unix":
		path := args["path"]
		if path == "" && len(positional) > 0 {
			path = positional[0]
		}
		if path == "" {
			return server.EndpointDescriptor{}, fmt.Errorf("endpoint %q: missing path", desc)
		}
		d := server.EndpointDescriptor{Kind: server.EndpointUnix, Addr: path}
		if mode := args["mode"]; mode != "" {
			m, err := strconv.ParseUint(mode, 8, 32)
			if err != nil {
				return server.EndpointDescriptor{}, fmt.Errorf("endpoint %q: bad mode: %w", desc, err)
			}
			d.Mode = os.FileMode(m)
		}
		return d, nil

	case "fd":
		fileno := args["fileno"]
		if fileno == "" && len(positional) > 0 {
			fileno = positional[0]
		}
		if fileno == "" {
			return server.EndpointDescriptor{}, fmt.Errorf("endpoint %q: missing fileno", desc)
		}
		return server.EndpointDescriptor{Kind: server.EndpointFD, Addr: fileno}, nil

	default:
		return server.EndpointDescriptor{}, fmt.Errorf("endpoint %q: unknown kind %q", desc, kind)
	}
}

// buildEndpoints resolves the -b/-p/-u/--fd/-e/--tls-cert flags into the
// full EndpointSet a Server needs, recovering
// daphne/endpoints.py's convenience of deriving a single TCP/TLS
// endpoint from --bind/--port when no explicit -e descriptors are given.
func buildEndpoints(f flags) ([]server.EndpointDescriptor, error) {
	var out []server.EndpointDescriptor

	for _, e := range f.endpoints {
		d, err := parseTwistedEndpoint(e)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	if len(out) > 0 {
		return out, nil
	}

	switch {
	case f.unixSocket != "":
		out = append(out, server.EndpointDescriptor{Kind: server.EndpointUnix, Addr: f.unixSocket})
	case f.fd >= 0:
		out = append(out, server.EndpointDescriptor{Kind: server.EndpointFD, Addr: strconv.Itoa(f.fd)})
	default:
		d := server.EndpointDescriptor{Kind: server.EndpointTCP, Addr: fmt.Sprintf("%s:%d", f.bind, f.port)}
		if f.tlsCert != "" {
			cert, err := tls.LoadX509KeyPair(f.tlsCert, f.tlsKey)
			if err != nil {
				return nil, fmt.Errorf("--tls-cert/--tls-key: %w", err)
			}
			d.TLS = []tls.Certificate{cert}
		} else if f.reusePort {
			d.ReusePort = true
		}
		out = append(out, d)
	}

	return out, nil
}
