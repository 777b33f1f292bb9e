// Package transport implements the listener set (spec.md §4.1): binding
// TCP, UNIX and inherited-FD endpoint descriptors, optionally wrapped in
// TLS, and handing each accepted connection to a callback pre-wired with
// the server core.
package transport

import (
	"net"

	"github.com/webasgi/asgid/config"
)

// Transport is anything the Supervisor can bind, run an accept loop on,
// and tear down. TCP, TLS and Unix all implement it.
type Transport interface {
	Bind(addr string) error
	Listen(cfg config.NET, cb func(conn net.Conn)) error
	Stop()
	Close()
	Wait()
}
