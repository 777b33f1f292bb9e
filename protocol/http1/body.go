package http1

import (
	"context"
	"io"

	"github.com/indigo-web/chunkedbody"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/transport"
)

// StreamBody reads the request body off client — content-length bounded
// or chunked — and delivers it to cycle as a sequence of http.request
// events, in network order, each carrying more_body until the final
// chunk (spec.md §4.2 "Request body streaming"). leftover is whatever
// bytes ReadHeaderBlock already read past the header block.
//
// Returns once the body is fully delivered, the transport is lost (in
// which case http.disconnect has already been delivered), or maxSize is
// exceeded (in which case the caller should abort the connection with
// 413-equivalent handling).
func StreamBody(ctx context.Context, client transport.Client, cycle *bridge.Cycle, req ParsedRequest, limits config.Body) error {
	if req.Chunked {
		return streamChunkedBody(ctx, client, cycle, req.Leftover, limits)
	}
	return streamFixedBody(ctx, client, cycle, req.Leftover, req.ContentLength, limits.MaxSize)
}

func streamFixedBody(ctx context.Context, client transport.Client, cycle *bridge.Cycle, leftover []byte, length int64, maxSize uint64) error {
	if length == 0 {
		// leftover here is whatever ReadHeaderBlock already read past this
		// request's headers — on a pipelined keep-alive connection that's
		// the start of the next request, not this one's body, and must go
		// back to client or it's lost for good.
		if len(leftover) > 0 {
			client.Pushback(leftover)
		}
		cycle.Deliver(ctx, asgi.Event{Type: asgi.TypeHTTPRequest, MoreBody: false})
		return nil
	}
	if uint64(length) > maxSize {
		return asgierrors.ErrBodyTooLarge
	}

	var remaining = length
	pending := leftover

	for remaining > 0 {
		var chunk []byte
		if len(pending) > 0 {
			chunk, pending = pending, nil
		} else {
			var err error
			chunk, err = client.Read()
			if err != nil {
				cycle.Disconnect(asgi.Event{Type: asgi.TypeHTTPDisconnect})
				return err
			}
		}

		if int64(len(chunk)) > remaining {
			client.Pushback(chunk[remaining:])
			chunk = chunk[:remaining]
		}

		remaining -= int64(len(chunk))
		more := remaining > 0
		cycle.Deliver(ctx, asgi.Event{Type: asgi.TypeHTTPRequest, Body: chunk, MoreBody: more})
	}

	return nil
}

// streamChunkedBody decodes chunked transfer-encoding with
// chunkedbody.Parser, the same decoder the teacher's HTTP/1.1 body
// reader drives off its tcp.Client (internal/transport/http1/body.go):
// feed it whatever the socket hands back, it returns the decoded chunk,
// io.EOF once the terminating zero-length chunk is seen, and whatever
// trailing bytes belong to the next request, which gets pushed back
// onto client rather than threaded through by hand. Trailers are not
// requested (hasTrailer=false): none are surfaced to the application.
func streamChunkedBody(ctx context.Context, client transport.Client, cycle *bridge.Cycle, leftover []byte, limits config.Body) error {
	settings := chunkedbody.DefaultSettings()
	settings.MaxChunkSize = limits.MaxChunkSize
	parser := chunkedbody.NewParser(settings)

	pending := leftover
	var delivered uint64

	read := func() ([]byte, error) {
		if len(pending) > 0 {
			data := pending
			pending = nil
			return data, nil
		}
		return client.Read()
	}

	for {
		data, err := read()
		if err != nil {
			cycle.Disconnect(asgi.Event{Type: asgi.TypeHTTPDisconnect})
			return err
		}

		chunk, extra, perr := parser.Parse(data, false)
		switch perr {
		case nil, io.EOF:
		default:
			return asgierrors.ErrBadRequest
		}

		delivered += uint64(len(chunk))
		if delivered > limits.MaxSize {
			return asgierrors.ErrBodyTooLarge
		}

		if perr == io.EOF {
			client.Pushback(extra)
			cycle.Deliver(ctx, asgi.Event{Type: asgi.TypeHTTPRequest, Body: chunk, MoreBody: false})
			return nil
		}

		pending = extra
		if len(chunk) > 0 {
			cycle.Deliver(ctx, asgi.Event{Type: asgi.TypeHTTPRequest, Body: chunk, MoreBody: true})
		}
	}
}
