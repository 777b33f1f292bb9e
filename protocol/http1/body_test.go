package http1

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
)

// fakeClient is a minimal transport.Client backed by a queue of
// pre-canned reads, standing in for dummy.NewCircularClient from the
// teacher's test suite.
type fakeClient struct {
	reads    [][]byte
	pushback []byte
}

func newFakeClient(reads ...[]byte) *fakeClient {
	return &fakeClient{reads: reads}
}

func (c *fakeClient) Read() ([]byte, error) {
	if len(c.pushback) > 0 {
		b := c.pushback
		c.pushback = nil
		return b, nil
	}
	if len(c.reads) == 0 {
		return nil, errors.New("fakeClient: exhausted")
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	return b, nil
}

func (c *fakeClient) Pushback(b []byte)           { c.pushback = append(append([]byte(nil), b...), c.pushback...) }
func (c *fakeClient) Write(b []byte) (int, error) { return len(b), nil }
func (c *fakeClient) Conn() net.Conn              { return nil }
func (c *fakeClient) Remote() net.Addr            { return nil }
func (c *fakeClient) Close() error                { return nil }

// collectRequestEvents drains http.request events off cycle until one
// arrives with more_body false, then waits for done. Fails the test on
// timeout rather than hanging forever if StreamBody never delivers.
func collectRequestEvents(t *testing.T, cycle *bridge.Cycle, done <-chan error) ([]asgi.Event, error) {
	t.Helper()

	var events []asgi.Event
	for {
		select {
		case err := <-done:
			return events, err
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for StreamBody")
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := cycle.Receive(ctx)
		cancel()
		if err != nil {
			continue
		}

		events = append(events, ev)
		if !ev.MoreBody {
			return events, <-done
		}
	}
}

func TestStreamFixedBodySingleRead(t *testing.T) {
	client := newFakeClient()
	cycle := bridge.New(asgi.Scope{})

	done := make(chan error, 1)
	go func() {
		done <- StreamBody(context.Background(), client, cycle,
			ParsedRequest{ContentLength: 5, Leftover: []byte("hello")}, config.Default().Body)
	}()

	events, err := collectRequestEvents(t, cycle, done)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "hello", string(events[0].Body))
	require.False(t, events[0].MoreBody)
}

func TestStreamFixedBodyMultipleReads(t *testing.T) {
	client := newFakeClient([]byte("cde"))
	cycle := bridge.New(asgi.Scope{})

	done := make(chan error, 1)
	go func() {
		done <- StreamBody(context.Background(), client, cycle,
			ParsedRequest{ContentLength: 5, Leftover: []byte("ab")}, config.Default().Body)
	}()

	events, err := collectRequestEvents(t, cycle, done)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "ab", string(events[0].Body))
	require.True(t, events[0].MoreBody)
	require.Equal(t, "cde", string(events[1].Body))
	require.False(t, events[1].MoreBody)
}

func TestStreamFixedBodyLeftoverOverrunIsPushedBack(t *testing.T) {
	client := newFakeClient()
	cycle := bridge.New(asgi.Scope{})

	done := make(chan error, 1)
	go func() {
		done <- StreamBody(context.Background(), client, cycle,
			ParsedRequest{ContentLength: 3, Leftover: []byte("abcXY")}, config.Default().Body)
	}()

	events, err := collectRequestEvents(t, cycle, done)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "abc", string(events[0].Body))
	require.Equal(t, []byte("XY"), client.pushback)
}

func TestStreamFixedBodyTooLarge(t *testing.T) {
	client := newFakeClient()
	cycle := bridge.New(asgi.Scope{})

	limits := config.Default().Body
	limits.MaxSize = 2

	err := StreamBody(context.Background(), client, cycle, ParsedRequest{ContentLength: 5}, limits)
	require.Equal(t, asgierrors.ErrBodyTooLarge, err)
}

func TestStreamChunkedBodyDecodesAllChunks(t *testing.T) {
	wire := []byte("7\r\nMozilla\r\n9\r\nDeveloper\r\n7\r\nNetwork\r\n0\r\n\r\nGET")
	client := newFakeClient()
	cycle := bridge.New(asgi.Scope{})

	done := make(chan error, 1)
	go func() {
		done <- StreamBody(context.Background(), client, cycle,
			ParsedRequest{Chunked: true, Leftover: wire}, config.Default().Body)
	}()

	events, err := collectRequestEvents(t, cycle, done)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var body []byte
	for _, ev := range events {
		body = append(body, ev.Body...)
	}
	require.Equal(t, "MozillaDeveloperNetwork", string(body))
	require.False(t, events[len(events)-1].MoreBody)
	require.Equal(t, []byte("GET"), client.pushback)
}
