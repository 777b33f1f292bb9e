package transport

import (
	"net"
	"time"

	"github.com/webasgi/asgid/internal/unreader"
)

type Client interface {
	Read() ([]byte, error)
	Pushback([]byte)
	Write([]byte) (int, error)
	Conn() net.Conn
	Remote() net.Addr
	Close() error
}

type client struct {
	conn    net.Conn
	buff    []byte
	timeout time.Duration
	unreader.Unreader
}

func NewClient(conn net.Conn, timeout time.Duration, buff []byte) Client {
	return &client{
		buff:    buff,
		conn:    conn,
		timeout: timeout,
	}
}

// Read returns whatever was pushed back via Pushback first, falling
// back to a fresh read off the socket with the configured timeout (a
// timeout of 0 sets no read deadline).
func (c *client) Read() ([]byte, error) {
	return c.PendingOr(func() ([]byte, error) {
		if c.timeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
				return nil, err
			}
		}

		n, err := c.conn.Read(c.buff)
		return c.buff[:n], err
	})
}

// Pushback preserves a chunk of data from a previous read for the next
// Read call — used when a protocol sniff (e.g. the HTTP/2 client
// preface check) consumed bytes belonging to the next layer.
func (c *client) Pushback(b []byte) {
	c.Unread(b)
}

// Conn unwraps the underlying net.Conn.
func (c *client) Conn() net.Conn {
	return c.conn
}

// Write writes data into the underlying connection.
func (c *client) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Remote returns the remote address of the connection.
func (c *client) Remote() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection.
func (c *client) Close() error {
	return c.conn.Close()
}
