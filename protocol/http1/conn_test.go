package http1

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
)

// recordingClient is a transport.Client backed by a queue of pre-canned
// reads that also records every Write, standing in for a real socket so
// a test can inspect exactly what went out on the wire.
type recordingClient struct {
	mu       sync.Mutex
	reads    [][]byte
	pushback []byte
	wrote    []byte
}

func newRecordingClient(reads ...[]byte) *recordingClient {
	return &recordingClient{reads: reads}
}

func (c *recordingClient) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pushback) > 0 {
		b := c.pushback
		c.pushback = nil
		return b, nil
	}
	if len(c.reads) == 0 {
		return nil, errors.New("recordingClient: connection closed")
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	return b, nil
}

func (c *recordingClient) Pushback(b []byte) {
	c.mu.Lock()
	c.pushback = append(append([]byte(nil), b...), c.pushback...)
	c.mu.Unlock()
}

func (c *recordingClient) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.wrote = append(c.wrote, b...)
	c.mu.Unlock()
	return len(b), nil
}

func (c *recordingClient) Conn() net.Conn   { return nil }
func (c *recordingClient) Remote() net.Addr { return nil }
func (c *recordingClient) Close() error     { return nil }

func (c *recordingClient) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.wrote...)
}

type accessCall struct {
	method, path string
	status       int
	size         int64
}

func collectAccessLog() (AccessLogFunc, func() []accessCall) {
	var mu sync.Mutex
	var calls []accessCall
	fn := func(method, path string, statusCode int, size int64, _ time.Time) {
		mu.Lock()
		calls = append(calls, accessCall{method, path, statusCode, size})
		mu.Unlock()
	}
	return fn, func() []accessCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]accessCall(nil), calls...)
	}
}

// okApp answers every request with a 200 and a short fixed body.
func okApp(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
	if _, err := receive.Receive(ctx); err != nil {
		return err
	}
	if err := send.Send(ctx, asgi.Event{
		Type:    asgi.TypeHTTPResponseStart,
		Status:  200,
		Headers: asgi.Headers{{Name: []byte("content-type"), Value: []byte("text/plain")}},
	}); err != nil {
		return err
	}
	return send.Send(ctx, asgi.Event{Type: asgi.TypeHTTPResponseBody, Body: []byte("ok"), MoreBody: false})
}

// TestServeHandlesPipelinedKeepAliveCyclesInOrder exercises spec.md
// §4.2's keep-alive contract and §8's "two pipelined zero-body GETs"
// scenario together: both requests arrive in a single Read() (so the
// second request's bytes reach serveOneCycle as the first cycle's body
// "leftover" and must be pushed back, not dropped), yet still run in
// order, each reporting its own access-log entry, before the second
// cycle's Connection: close tears the loop down.
func TestServeHandlesPipelinedKeepAliveCyclesInOrder(t *testing.T) {
	req1 := "GET /one HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"
	req2 := "GET /two HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"

	client := newRecordingClient([]byte(req1 + req2))
	accessLog, calls := collectAccessLog()

	err := Serve(context.Background(), client, config.Default(), okApp, bridge.ConnInfo{}, nil, nil, accessLog)
	require.NoError(t, err)

	written := client.written()
	require.Equal(t, 2, countOccurrences(written, "200 OK"))

	entries := calls()
	require.Len(t, entries, 2)
	require.Equal(t, accessCall{"GET", "/one", 200, 2}, entries[0])
	require.Equal(t, accessCall{"GET", "/two", 200, 2}, entries[1])
}

// TestServeDisconnectMidBodyReportsSyntheticErrorStatus exercises a
// client that advertises a request body and then vanishes before
// sending any of it: StreamBody's read fails, the application observes
// http.disconnect and returns, and the cycle falls back to a synthetic
// 500 with that status reflected in the access-log entry (spec.md §4.6,
// §7).
func TestServeDisconnectMidBodyReportsSyntheticErrorStatus(t *testing.T) {
	req := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 10\r\nConnection: close\r\n\r\n"
	client := newRecordingClient([]byte(req)) // no body bytes queued: StreamBody's read will fail
	accessLog, calls := collectAccessLog()

	drainUntilDisconnect := func(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
		for {
			ev, err := receive.Receive(ctx)
			if err != nil {
				return nil
			}
			if ev.Type == asgi.TypeHTTPDisconnect {
				return nil
			}
		}
	}

	err := Serve(context.Background(), client, config.Default(), drainUntilDisconnect, bridge.ConnInfo{}, nil, nil, accessLog)
	require.NoError(t, err)

	entries := calls()
	require.Len(t, entries, 1)
	require.Equal(t, "POST", entries[0].method)
	require.Equal(t, "/upload", entries[0].path)
	require.Equal(t, 500, entries[0].status)

	require.Contains(t, string(client.written()), "500 Internal Server Error")
}

// TestServeReportsAccessLogOnParseFailure exercises the parse-failure
// branch: a malformed request line never reaches the application, but
// the access logger still gets an entry so a garbage request shows up
// in the log rather than disappearing silently.
func TestServeReportsAccessLogOnParseFailure(t *testing.T) {
	client := newRecordingClient([]byte("garbage\r\n\r\n"))
	accessLog, calls := collectAccessLog()

	err := Serve(context.Background(), client, config.Default(), okApp, bridge.ConnInfo{}, nil, nil, accessLog)
	require.Error(t, err)

	entries := calls()
	require.Len(t, entries, 1)
	require.Equal(t, "-", entries[0].method)
	require.Equal(t, "-", entries[0].path)
	require.Equal(t, 400, entries[0].status)
}

func countOccurrences(haystack []byte, needle string) int {
	n := 0
	for i := 0; ; {
		idx := indexOf(haystack[i:], needle)
		if idx == -1 {
			return n
		}
		n++
		i += idx + len(needle)
	}
}

func indexOf(haystack []byte, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == needle {
			return i
		}
	}
	return -1
}
