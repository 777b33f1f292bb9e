package websocket

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	"github.com/webasgi/asgid/protocol/http1"
)

// blockingClient is a transport.Client backed by a queue of canned
// reads; once the queue is drained, Read blocks until unblock() is
// called, standing in for a socket with no more traffic.
type blockingClient struct {
	mu    sync.Mutex
	reads [][]byte
	wrote []byte
	block chan struct{}
}

func newBlockingClient(reads ...[]byte) *blockingClient {
	return &blockingClient{reads: reads, block: make(chan struct{})}
}

func (c *blockingClient) Read() ([]byte, error) {
	c.mu.Lock()
	if len(c.reads) > 0 {
		b := c.reads[0]
		c.reads = c.reads[1:]
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()
	<-c.block
	return nil, io.EOF
}

func (c *blockingClient) Pushback(b []byte) {
	c.mu.Lock()
	c.reads = append([][]byte{b}, c.reads...)
	c.mu.Unlock()
}

func (c *blockingClient) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.wrote = append(c.wrote, b...)
	c.mu.Unlock()
	return len(b), nil
}

func (c *blockingClient) Conn() net.Conn   { return nil }
func (c *blockingClient) Remote() net.Addr { return nil }
func (c *blockingClient) Close() error     { return nil }

func (c *blockingClient) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.wrote...)
}

func (c *blockingClient) unblock() {
	close(c.block)
}

func handshakeRequest(key string) http1.ParsedRequest {
	return http1.ParsedRequest{
		Method:      "GET",
		Path:        "/chat",
		HTTPVersion: "1.1",
		Connection:  "Upgrade",
		Upgrade:     "websocket",
		Headers: asgi.Headers{
			{Name: []byte("sec-websocket-key"), Value: []byte(key)},
			{Name: []byte("sec-websocket-version"), Value: []byte("13")},
		},
	}
}

func TestComputeAcceptMatchesRFC6455Example(t *testing.T) {
	// the worked example from RFC 6455 §1.3
	require.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAccept("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestIsHandshakeRequiresKeyAndVersion13(t *testing.T) {
	key, ok := IsHandshake(handshakeRequest("dGhlIHNhbXBsZSBub25jZQ=="))
	require.True(t, ok)
	require.Equal(t, "dGhlIHNhbXBsZSBub25jZQ==", key)

	req := handshakeRequest("dGhlIHNhbXBsZSBub25jZQ==")
	req.Headers = asgi.Headers{req.Headers[0]} // drop Sec-WebSocket-Version
	_, ok = IsHandshake(req)
	require.False(t, ok)

	req2 := handshakeRequest("dGhlIHNhbXBsZSBub25jZQ==")
	req2.Headers[1].Value = []byte("8")
	_, ok = IsHandshake(req2)
	require.False(t, ok)
}

// echoApp implements spec.md §4.4's happy path: accept, then echo every
// text message back until the client closes.
func echoApp(ctx context.Context, scope asgi.Scope, receive asgi.Receiver, send asgi.Sender) error {
	for {
		ev, err := receive.Receive(ctx)
		if err != nil {
			return nil
		}
		switch ev.Type {
		case asgi.TypeWebSocketConnect:
			if err := send.Send(ctx, asgi.Event{Type: asgi.TypeWebSocketAccept}); err != nil {
				return err
			}
		case asgi.TypeWebSocketReceive:
			if ev.HasText {
				if err := send.Send(ctx, asgi.Event{Type: asgi.TypeWebSocketSend, Text: ev.Text, HasText: true}); err != nil {
					return err
				}
			}
		case asgi.TypeWebSocketDisconnect:
			return nil
		}
	}
}

// TestHandlerAcceptHandshakeAndEchoTextFrame exercises spec.md §8's
// "WS accept + text frame" scenario end to end: a masked client text
// frame comes in, the computed Sec-WebSocket-Accept goes out, and the
// echoed server frame is unmasked.
func TestHandlerAcceptHandshakeAndEchoTextFrame(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	req := handshakeRequest(key)

	clientMask := [4]byte{0x11, 0x22, 0x33, 0x44}
	textFrame := maskFrame(true, OpText, []byte("hi"), clientMask)
	closeMask := [4]byte{0x55, 0x66, 0x77, 0x88}
	closeFrame := maskFrame(true, OpClose, []byte{0x03, 0xe8}, closeMask) // code 1000

	client := newBlockingClient(textFrame, closeFrame)
	defer client.unblock()

	h := New(config.Default())

	done := make(chan error, 1)
	go func() {
		done <- h.Serve(context.Background(), client, req, bridge.ConnInfo{}, echoApp)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Handler.Serve did not return")
	}

	written := client.written()
	require.True(t, bytes.Contains(written, []byte("101 Switching Protocols")))
	require.True(t, bytes.Contains(written, []byte("Sec-WebSocket-Accept: "+ComputeAccept(key))))

	echoIdx := bytes.Index(written, []byte{0x81, 0x02, 'h', 'i'})
	require.GreaterOrEqual(t, echoIdx, 0, "expected an unmasked echoed text frame in the written bytes")
}

// TestHandlerRejectsMissingHandshakeHeaders exercises the non-upgrade
// rejection path: no Sec-WebSocket-Key means a synthetic 400 and no
// cycle is ever started.
func TestHandlerRejectsMissingHandshakeHeaders(t *testing.T) {
	req := http1.ParsedRequest{Method: "GET", Path: "/chat", HTTPVersion: "1.1"}
	client := newBlockingClient()
	defer client.unblock()

	h := New(config.Default())
	err := h.Serve(context.Background(), client, req, bridge.ConnInfo{}, echoApp)
	require.Error(t, err)
	require.True(t, bytes.Contains(client.written(), []byte(" 400 ")))
}

// TestHandlerGracefulShutdownSendsClose1001 exercises spec.md §4.6
// invariant 4: a shutdown signal on the connection's context yields a
// close frame with code 1001, not the 1011 an application error would
// produce.
func TestHandlerGracefulShutdownSendsClose1001(t *testing.T) {
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	req := handshakeRequest(key)

	client := newBlockingClient()
	defer client.unblock()

	shutdown := make(chan struct{})
	ctx := WithShutdownSignal(context.Background(), shutdown)

	h := New(config.Default())

	done := make(chan error, 1)
	go func() {
		done <- h.Serve(ctx, client, req, bridge.ConnInfo{}, echoApp)
	}()

	// give the handshake a moment to complete before triggering shutdown
	require.Eventually(t, func() bool {
		return bytes.Contains(client.written(), []byte("101 Switching Protocols"))
	}, time.Second, 5*time.Millisecond)

	close(shutdown)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Handler.Serve did not return after shutdown signal")
	}

	written := client.written()
	closeIdx := bytes.Index(written, []byte("101 Switching Protocols"))
	require.GreaterOrEqual(t, closeIdx, 0)

	frameStart := closeIdx + len("101 Switching Protocols")
	rest := written[frameStart:]
	idx := bytes.IndexByte(rest, 0x88) // close opcode, unmasked
	require.GreaterOrEqual(t, idx, 0, "expected an unmasked close frame")
	require.Equal(t, byte(0x02), rest[idx+1])
	require.Equal(t, byte(0x03), rest[idx+2]) // 1001 >> 8
	require.Equal(t, byte(0xe9), rest[idx+3]) // 1001 & 0xff
}
