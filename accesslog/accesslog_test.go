package accesslog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	entries []Entry
}

func (f *fakeSink) Write(e Entry) {
	f.entries = append(f.entries, e)
}

func TestLoggerDeliversEntries(t *testing.T) {
	sink := &fakeSink{}
	l := New(sink, 4, nil)

	l.Log(Entry{Protocol: "http", Action: "GET", Path: "/", Status: 200, Timestamp: time.Now()})
	l.Close()

	require.Len(t, sink.entries, 1)
	require.Equal(t, "/", sink.entries[0].Path)
}

func TestLoggerDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	sink := &blockingSink{started: blocked}
	l := New(sink, 1, nil)

	dropped := 0
	l.dropped = func() { dropped++ }

	l.Log(Entry{})
	<-blocked
	l.Log(Entry{})
	l.Log(Entry{})

	close(sink.release)
	l.Close()

	require.Greater(t, dropped, 0)
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingSink) Write(e Entry) {
	if !b.once {
		b.once = true
		if b.release == nil {
			b.release = make(chan struct{})
		}
		close(b.started)
		<-b.release
	}
}

func TestTextSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTextSink(&buf)

	sink.Write(Entry{
		Protocol:  "http",
		Action:    "GET",
		Path:      "/hello",
		Status:    200,
		Timestamp: time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC),
	})

	require.Contains(t, buf.String(), "GET /hello")
	require.Contains(t, buf.String(), "200")
}

func TestJSONSinkFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf)

	sink.Write(Entry{Protocol: "websocket", Action: "connected", Path: "/ws", Status: 101})

	require.Contains(t, buf.String(), `"protocol":"websocket"`)
	require.Contains(t, buf.String(), `"action":"connected"`)
}
