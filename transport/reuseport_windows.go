//go:build windows

package transport

import (
	"fmt"
	"net"
)

// bindTCPReusePort has no SO_REUSEPORT equivalent on Windows; it falls
// back to an ordinary exclusive bind, meaning only one process may hold
// the port at a time on this platform.
func bindTCPReusePort(addr string) (*net.TCPListener, error) {
	l, err := bindTCP(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: reuseport unsupported on windows, plain bind: %w", err)
	}
	return l, nil
}
