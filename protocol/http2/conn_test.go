package http2

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2/hpack"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
)

// fakeHTTP2Client is a transport.Client that only records writes; the
// tests in this file drive streams directly through Conn's frame
// handlers rather than through Conn.Serve's read loop, so no reads are
// ever queued.
type fakeHTTP2Client struct {
	mu    sync.Mutex
	wrote []byte
}

func (c *fakeHTTP2Client) Read() ([]byte, error) { return nil, io.EOF }
func (c *fakeHTTP2Client) Pushback([]byte)       {}

func (c *fakeHTTP2Client) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.wrote = append(c.wrote, b...)
	c.mu.Unlock()
	return len(b), nil
}

func (c *fakeHTTP2Client) Conn() net.Conn   { return nil }
func (c *fakeHTTP2Client) Remote() net.Addr { return nil }
func (c *fakeHTTP2Client) Close() error     { return nil }

func (c *fakeHTTP2Client) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.wrote...)
}

type wireFrame struct {
	header  FrameHeader
	payload []byte
}

func decodeFrames(t *testing.T, data []byte) []wireFrame {
	t.Helper()
	r := bytes.NewReader(data)
	var out []wireFrame
	for r.Len() > 0 {
		fh, err := ReadFrameHeader(r)
		require.NoError(t, err)
		payload := make([]byte, fh.Length)
		_, err = io.ReadFull(r, payload)
		require.NoError(t, err)
		out = append(out, wireFrame{fh, payload})
	}
	return out
}

func encodeHeaderBlock(t *testing.T, fields ...hpack.HeaderField) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	for _, f := range fields {
		require.NoError(t, enc.WriteField(f))
	}
	return buf.Bytes()
}

type accessEntry struct {
	method, path string
	status       int
	size         int64
}

// echoStatusApp implements spec.md §4.2's contract for a single-cycle
// HTTP/2 stream: read the request, reply 200 with the request's method
// echoed back as the body.
func echoStatusApp(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
	ev, err := receive.Receive(ctx)
	if err != nil {
		return err
	}
	if ev.Type != asgi.TypeHTTPRequest {
		return nil
	}
	if err := send.Send(ctx, asgi.Event{
		Type:    asgi.TypeHTTPResponseStart,
		Status:  200,
		Headers: asgi.Headers{{Name: []byte("content-type"), Value: []byte("text/plain")}},
	}); err != nil {
		return err
	}
	return send.Send(ctx, asgi.Event{Type: asgi.TypeHTTPResponseBody, Body: []byte(scope.Method), MoreBody: false})
}

// TestOnHeadersOpensStreamWritesResponseAndReportsAccess exercises
// spec.md §4.3's "one HEADERS frame opens one stream, scoped to an
// independent ASGI cycle" end to end: the decoded request reaches the
// application, the response comes back as HEADERS+DATA frames, and the
// per-stream access-log entry fires once the stream closes.
func TestOnHeadersOpensStreamWritesResponseAndReportsAccess(t *testing.T) {
	client := &fakeHTTP2Client{}
	accessCh := make(chan accessEntry, 1)
	onAccess := func(method, path string, status int, size int64, start time.Time) {
		accessCh <- accessEntry{method, path, status, size}
	}

	c := NewConn(client, config.Default(), bridge.ConnInfo{}, echoStatusApp, nil, onAccess)

	block := encodeHeaderBlock(t,
		hpack.HeaderField{Name: ":method", Value: "GET"},
		hpack.HeaderField{Name: ":path", Value: "/widgets"},
		hpack.HeaderField{Name: ":authority", Value: "example.com"},
	)

	ctx := context.Background()
	require.NoError(t, c.onHeaders(ctx, FrameHeader{StreamID: 1, Flags: FlagEndHeaders | FlagEndStream}, block))

	select {
	case entry := <-accessCh:
		require.Equal(t, "GET", entry.method)
		require.Equal(t, "/widgets", entry.path)
		require.Equal(t, 200, entry.status)
		require.EqualValues(t, 3, entry.size) // len("GET")
	case <-time.After(2 * time.Second):
		t.Fatal("access log callback was not invoked")
	}

	frames := decodeFrames(t, client.written())
	require.Len(t, frames, 2)
	require.Equal(t, FrameHeaders, frames[0].header.Type)
	require.Equal(t, FrameData, frames[1].header.Type)
	require.Equal(t, "GET", string(frames[1].payload))
	require.NotZero(t, frames[1].header.Flags&FlagEndStream)
}

// TestOnHeadersWithoutEndHeadersWaitsForContinuation covers a HEADERS
// frame split across a CONTINUATION frame (RFC 9113 §6.10): the stream
// is not opened until END_HEADERS arrives.
func TestOnHeadersWithoutEndHeadersWaitsForContinuation(t *testing.T) {
	client := &fakeHTTP2Client{}
	c := NewConn(client, config.Default(), bridge.ConnInfo{}, echoStatusApp, nil, nil)

	block := encodeHeaderBlock(t,
		hpack.HeaderField{Name: ":method", Value: "GET"},
		hpack.HeaderField{Name: ":path", Value: "/"},
	)
	half := len(block) / 2
	if half == 0 {
		half = 1
	}

	ctx := context.Background()
	require.NoError(t, c.onHeaders(ctx, FrameHeader{StreamID: 3, Flags: 0}, block[:half]))
	require.Nil(t, c.getStream(3).cycle)

	require.NoError(t, c.onContinuation(ctx, FrameHeader{StreamID: 3, Flags: FlagEndHeaders}, block[half:]))
	require.NotNil(t, c.getStream(3).cycle)
}

func TestHandleFrameGoAwayStopsTheConnection(t *testing.T) {
	client := &fakeHTTP2Client{}
	c := NewConn(client, config.Default(), bridge.ConnInfo{}, echoStatusApp, nil, nil)

	err := c.handleFrame(context.Background(), FrameHeader{Type: FrameGoAway}, EncodeGoAway(0, 0))
	require.Equal(t, asgierrors.ErrShutdown, err)
}

func TestHandshakeWritesInitialSettingsFrame(t *testing.T) {
	client := &fakeHTTP2Client{}
	c := NewConn(client, config.Default(), bridge.ConnInfo{}, echoStatusApp, nil, nil)

	require.NoError(t, c.handshake())

	frames := decodeFrames(t, client.written())
	require.Len(t, frames, 1)
	require.Equal(t, FrameSettings, frames[0].header.Type)
}
