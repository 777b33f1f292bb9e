package transport

import (
	"net"
	"os"
)

// Unix listens on a UNIX-domain socket path (spec.md §4.1, -u/--unix-socket).
// The socket file is removed before binding, since a stale one left behind
// by a previous crashed process would otherwise make bind fail.
type Unix struct {
	TCP
	path string
	mode os.FileMode
}

// NewUnix returns a Unix listener that chmods the socket file to mode once
// bound, 0 leaving the umask-determined default in place.
func NewUnix(mode os.FileMode) *Unix {
	return &Unix{TCP: newTCP(nil), mode: mode}
}

func (u *Unix) Bind(path string) error {
	_ = os.Remove(path)

	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}

	if u.mode != 0 {
		if err := os.Chmod(path, u.mode); err != nil {
			_ = l.Close()
			return err
		}
	}

	u.path = path
	u.TCP = newTCP(unixListener{l.(*net.UnixListener)})

	return nil
}

func (u *Unix) Close() {
	u.TCP.Close()
	if u.path != "" {
		_ = os.Remove(u.path)
	}
}

// unixListener adapts *net.UnixListener to the deadline-aware listener
// interface TCP.Listen's accept loop relies on.
type unixListener struct {
	*net.UnixListener
}
