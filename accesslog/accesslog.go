// Package accesslog records one line per completed HTTP request or
// WebSocket connection (spec.md §4.6), grounded on Daphne's
// access.py/AccessLogGenerator: an NCSA-combined-style text line by
// default, or a JSON object via json-iterator/go when configured.
package accesslog

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Entry is one completed unit of work: an HTTP request/response pair,
// or a WebSocket connection's connect or disconnect line (spec.md §4
// "AccessLogEntry").
type Entry struct {
	// ID correlates this entry back to the connection it came from, a
	// google/uuid value assigned once per accepted connection.
	ID        string
	Protocol  string // "http", "websocket"
	Action    string // "GET", "connected", "disconnected"
	Path      string
	Client    net.Addr
	Status    int
	Size      int64
	Duration  time.Duration
	Timestamp time.Time
}

// Sink accepts completed entries. Logger owns exactly one.
type Sink interface {
	Write(e Entry)
}

// Logger is a non-blocking access logger: Log never stalls the
// connection that produced the entry, at the cost of dropping entries
// under sustained overload (spec.md §4.6: access logging must not
// become a backpressure source for live connections).
type Logger struct {
	entries chan Entry
	sink    Sink
	done    chan struct{}
	dropped func()
}

// New starts a Logger writing to sink on its own goroutine. queueSize
// bounds how many unwritten entries may queue before newer ones are
// dropped; onDrop, if non-nil, is called (off the hot path) for each
// dropped entry so the operator can see it in the error log.
func New(sink Sink, queueSize int, onDrop func()) *Logger {
	if queueSize <= 0 {
		queueSize = 1024
	}

	l := &Logger{
		entries: make(chan Entry, queueSize),
		sink:    sink,
		done:    make(chan struct{}),
		dropped: onDrop,
	}
	go l.run()

	return l
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.entries {
		l.sink.Write(e)
	}
}

// Log enqueues e, dropping it silently (besides the onDrop callback) if
// the queue is full.
func (l *Logger) Log(e Entry) {
	select {
	case l.entries <- e:
	default:
		if l.dropped != nil {
			l.dropped()
		}
	}
}

// Close drains the queue and stops the writer goroutine.
func (l *Logger) Close() {
	close(l.entries)
	<-l.done
}

// TextSink writes NCSA-combined-flavored lines, the format
// daphne/access.py emits for both HTTP and WebSocket entries.
type TextSink struct {
	w io.Writer
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Write(e Entry) {
	host := "-"
	if e.Client != nil {
		host = e.Client.String()
	}

	fmt.Fprintf(s.w, "%s [%s] \"%s %s %s\" %d %s %s %s\n",
		host,
		e.Timestamp.Format("02/Jan/2006:15:04:05 -0700"),
		e.Protocol,
		e.Action,
		e.Path,
		e.Status,
		sizeField(e.Size),
		e.Duration,
		e.ID,
	)
}

func sizeField(size int64) string {
	if size == 0 {
		return "-"
	}
	return strconv.FormatInt(size, 10)
}

// JSONSink writes one json-iterator-encoded object per entry, selected
// via --log-fmt json (spec.md §6).
type JSONSink struct {
	w  io.Writer
	js jsoniter.API
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w, js: jsoniter.ConfigCompatibleWithStandardLibrary}
}

type jsonEntry struct {
	ID         string `json:"id"`
	Protocol   string `json:"protocol"`
	Action     string `json:"action"`
	Path       string `json:"path"`
	Client     string `json:"client"`
	Status     int    `json:"status"`
	Size       int64  `json:"size"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  string `json:"timestamp"`
}

func (s *JSONSink) Write(e Entry) {
	host := ""
	if e.Client != nil {
		host = e.Client.String()
	}

	line, err := s.js.Marshal(jsonEntry{
		ID:         e.ID,
		Protocol:   e.Protocol,
		Action:     e.Action,
		Path:       e.Path,
		Client:     host,
		Status:     e.Status,
		Size:       e.Size,
		DurationMS: e.Duration.Milliseconds(),
		Timestamp:  e.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	_, _ = s.w.Write(append(line, '\n'))
}
