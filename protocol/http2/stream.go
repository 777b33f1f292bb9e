package http2

import (
	"context"
	"strconv"
	"time"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	asgierrors "github.com/webasgi/asgid/errors"
	"golang.org/x/net/http2/hpack"
)

// streamState tracks one HTTP/2 stream's ASGI cycle (spec.md §4.3: "Each
// HEADERS frame opening a new stream spawns an independent request
// cycle ... scoped to that stream-id").
type streamState struct {
	id    uint32
	cycle *bridge.Cycle

	window     int64 // this stream's send window, peer-controlled
	headerBuf  []byte
	endHeaders bool
	endStream  bool

	appDone   chan error
	cancel    context.CancelFunc
	respState respPhase

	// method/path/start/status/size feed the access-log entry written
	// once the stream closes (spec.md §4.6 "AccessLogEntry").
	method string
	path   string
	start  time.Time
	status int
	size   int64
}

type respPhase uint8

const (
	phaseAwaitingStart respPhase = iota
	phaseStreaming
	phaseDone
)

// decodeHeaders turns an HPACK-decoded header block into a
// bridge.RequestLine, separating the RFC 9113 §8.3 pseudo-headers
// (:method, :path, :scheme, :authority) from ordinary request headers.
func decodeHeaders(block []byte, decoder *hpack.Decoder) (bridge.RequestLine, error) {
	var rl bridge.RequestLine
	rl.HTTPVersion = "2"

	var authority string
	var hdrs asgi.Headers

	decoder.SetEmitFunc(func(f hpack.HeaderField) {
		switch f.Name {
		case ":method":
			rl.Method = f.Value
		case ":path":
			path := f.Value
			if q := indexByte(path, '?'); q != -1 {
				rl.Path = path[:q]
				rl.QueryString = []byte(path[q+1:])
			} else {
				rl.Path = path
			}
			rl.RawPath = []byte(rl.Path)
		case ":scheme":
			// carried via TLS flag at the connection level; pseudo-header
			// is consumed but not re-surfaced as a regular header.
		case ":authority":
			authority = f.Value
		default:
			hdrs = append(hdrs, asgi.Header{Name: []byte(f.Name), Value: []byte(f.Value)})
		}
	})

	if _, err := decoder.Write(block); err != nil {
		return rl, asgierrors.ErrBadRequest
	}

	if authority != "" {
		hdrs = append(asgi.Headers{{Name: []byte("host"), Value: []byte(authority)}}, hdrs...)
	}

	rl.Headers = hdrs
	if rl.Method == "" || rl.Path == "" {
		return rl, asgierrors.ErrBadRequest
	}

	return rl, nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func runApp(ctx context.Context, app asgi.App, scope asgi.Scope, cycle *bridge.Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asgierrors.ErrProtocolViolation
		}
	}()
	return app(ctx, scope, cycle, cycle)
}

// encodeResponseHeaders HPACK-encodes a :status pseudo-header plus the
// application-supplied header list for an http.response.start event.
func encodeResponseHeaders(encoder *hpack.Encoder, status int, headers asgi.Headers, serverName string) error {
	if err := encoder.WriteField(hpack.HeaderField{Name: ":status", Value: strconv.Itoa(status)}); err != nil {
		return err
	}
	for _, h := range headers {
		if err := encoder.WriteField(hpack.HeaderField{Name: string(h.Name), Value: string(h.Value)}); err != nil {
			return err
		}
	}
	if serverName != "" {
		if err := encoder.WriteField(hpack.HeaderField{Name: "server", Value: serverName}); err != nil {
			return err
		}
	}
	return nil
}
