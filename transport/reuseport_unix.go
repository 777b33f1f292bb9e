//go:build !windows

package transport

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// bindTCPReusePort binds a TCP listener with SO_REUSEPORT set, letting
// more than one process (e.g. a rolling deploy's old and new instances)
// accept on the same address simultaneously, the way a Daphne
// deployment behind a reuseport-aware balancer would. Grounded on
// tunnox-core's createReusePortListener, adapted from UDP to TCP.
func bindTCPReusePort(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	sockaddr, err := toSockaddr(tcpAddr, &domain)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("transport: reuseport socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: SO_REUSEPORT: %w", err)
	}

	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}

	file := os.NewFile(uintptr(fd), addr)
	defer file.Close()

	l, err := net.FileListener(file)
	if err != nil {
		return nil, err
	}

	tcpListener, ok := l.(*net.TCPListener)
	if !ok {
		l.Close()
		return nil, fmt.Errorf("transport: reuseport listener for %q is not TCP", addr)
	}
	return tcpListener, nil
}

func toSockaddr(addr *net.TCPAddr, domain *int) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		*domain = unix.AF_INET
		var a [4]byte
		copy(a[:], ip4)
		return &unix.SockaddrInet4{Port: addr.Port, Addr: a}, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		*domain = unix.AF_INET6
		var a [16]byte
		copy(a[:], ip6)
		return &unix.SockaddrInet6{Port: addr.Port, Addr: a}, nil
	}
	// unspecified address ("") binds to all interfaces, IPv4.
	*domain = unix.AF_INET
	return &unix.SockaddrInet4{Port: addr.Port}, nil
}
