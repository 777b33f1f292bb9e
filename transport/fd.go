package transport

import (
	"fmt"
	"net"
	"os"
)

// FD wraps a listener inherited from a parent process via an already-open
// file descriptor (spec.md §4.1, --fd), the way a process manager performing
// a zero-downtime restart hands off listening sockets to its replacement.
type FD struct {
	TCP
}

func NewFD() *FD {
	return &FD{TCP: newTCP(nil)}
}

// Bind ignores addr and instead treats it as a base-10 file descriptor
// number, matching --fd's documented usage (spec.md §6).
func (f *FD) Bind(addr string) error {
	var fd int
	if _, err := fmt.Sscanf(addr, "%d", &fd); err != nil {
		return fmt.Errorf("transport: invalid fd %q: %w", addr, err)
	}

	file := os.NewFile(uintptr(fd), "listener-fd-"+addr)
	if file == nil {
		return fmt.Errorf("transport: fd %d is not a valid file descriptor", fd)
	}

	l, err := net.FileListener(file)
	if err != nil {
		return err
	}

	tcpl, ok := l.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("transport: fd %d is not a TCP listener", fd)
	}

	f.TCP = newTCP(tcpl)

	return nil
}
