// Package http1 implements the HTTP/1.1 protocol adapter (spec.md §4.2):
// request-line/header parsing, request-body streaming, the response
// state machine, and upgrade detection into a WebSocket cycle.
//
// Connections are served one goroutine per accepted transport, doing
// blocking reads against a transport.Client — the same model the
// teacher's transport.TCP uses to hand each accepted net.Conn to a
// callback running on its own goroutine.
package http1

import (
	"bytes"

	"github.com/indigo-web/utils/uf"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/internal/buffer"
	"github.com/webasgi/asgid/internal/hexconv"
	"github.com/webasgi/asgid/method"
	"github.com/webasgi/asgid/transport"
)

const crlfcrlf = "\r\n\r\n"

// ParsedRequest is the result of parsing one request-line + header block.
type ParsedRequest struct {
	Method      string
	Path        string
	RawPath     []byte
	QueryString []byte
	HTTPVersion string
	Headers     asgi.Headers

	ContentLength  int64
	HasContentLen  bool
	Chunked        bool
	Connection     string
	Upgrade        string
	Leftover       []byte // bytes read past the header block (start of body)
}

// ReadHeaderBlock accumulates bytes off client until a bare CRLFCRLF is
// found, bounded by the configured request-line and header-space
// ceilings (spec.md §4.2, config.URI/config.Headers). It returns the
// full request-line+headers block (CRLFCRLF excluded) and whatever
// trailing bytes were read past it.
func ReadHeaderBlock(client transport.Client, cfg *config.Config) (block, leftover []byte, err error) {
	limit := cfg.URI.RequestLineSize.Maximal + cfg.Headers.Space.Maximal
	buf := buffer.New(cfg.URI.RequestLineSize.Default+cfg.Headers.Space.Default, limit)

	for {
		chunk, rerr := client.Read()
		if rerr != nil {
			return nil, nil, rerr
		}

		if !buf.Append(chunk) {
			return nil, nil, asgierrors.ErrHeaderFieldsTooLarge
		}

		data := buf.Preview()
		if idx := bytes.Index(data, []byte(crlfcrlf)); idx != -1 {
			head := data[:idx]
			rest := data[idx+len(crlfcrlf):]
			// copy out: buf is reused by later reads on this connection.
			block = append([]byte(nil), head...)
			if len(rest) > 0 {
				leftover = append([]byte(nil), rest...)
			}
			return block, leftover, nil
		}
	}
}

// Parse interprets a header block produced by ReadHeaderBlock, validating
// request-line and header grammar per RFC 9110 (spec.md §4.2: "a
// violation yields a 400 Bad Request with no body and closes the
// connection"). A grammar violation returns ErrBadRequest (400); an
// invalid method token returns ErrMethodNotImplemented (501), an
// unsupported version ErrUnsupportedProtocol (505), and too many headers
// ErrTooManyHeaders (431). maxHeaders bounds the header count
// (config.Headers.Number); 0 means unbounded.
func Parse(block []byte, maxHeaders int) (ParsedRequest, error) {
	var req ParsedRequest

	lineEnd := bytes.IndexByte(block, '\n')
	if lineEnd == -1 {
		return req, asgierrors.ErrBadRequest
	}

	line := stripCR(block[:lineEnd])
	rest := block[lineEnd+1:]

	if err := parseRequestLine(line, &req); err != nil {
		return req, err
	}

	if err := parseHeaders(rest, &req, maxHeaders); err != nil {
		return req, err
	}

	return req, nil
}

func parseRequestLine(line []byte, req *ParsedRequest) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return asgierrors.ErrBadRequest
	}

	methodTok := line[:sp1]
	if !method.ValidToken(uf.B2S(methodTok)) {
		return asgierrors.ErrMethodNotImplemented
	}
	req.Method = uf.B2S(methodTok)

	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 == -1 {
		return asgierrors.ErrBadRequest
	}

	target := rest[:sp2]
	protoTok := rest[sp2+1:]

	for _, c := range target {
		if c < 0x21 || c > 0x7e {
			return asgierrors.ErrBadRequest
		}
	}

	rawPath := target
	query := []byte(nil)
	if q := bytes.IndexByte(target, '?'); q != -1 {
		rawPath = target[:q]
		query = target[q+1:]
	}

	decoded, ok := percentDecodePath(rawPath)
	if !ok {
		return asgierrors.ErrBadRequest
	}

	req.Path = decoded
	req.RawPath = rawPath
	req.QueryString = query

	ver, ok := parseHTTPVersion(protoTok)
	if !ok {
		return asgierrors.ErrUnsupportedProtocol
	}
	req.HTTPVersion = ver

	return nil
}

func parseHTTPVersion(tok []byte) (string, bool) {
	// "HTTP/x.y"
	if len(tok) != 8 || !bytes.HasPrefix(tok, []byte("HTTP/")) || tok[6] != '.' {
		return "", false
	}
	major, minor := tok[5], tok[7]
	if major < '0' || major > '9' || minor < '0' || minor > '9' {
		return "", false
	}
	switch {
	case major == '1' && minor == '0':
		return "1.0", true
	case major == '1' && minor == '1':
		return "1.1", true
	default:
		return "", false
	}
}

func parseHeaders(block []byte, req *ParsedRequest, maxHeaders int) error {
	for len(block) > 0 {
		lf := bytes.IndexByte(block, '\n')
		var line []byte
		if lf == -1 {
			line, block = block, nil
		} else {
			line, block = block[:lf], block[lf+1:]
		}

		line = stripCR(line)
		if len(line) == 0 {
			continue
		}

		if maxHeaders > 0 && len(req.Headers) >= maxHeaders {
			return asgierrors.ErrTooManyHeaders
		}

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			return asgierrors.ErrBadRequest
		}

		name := line[:colon]
		if !method.ValidToken(uf.B2S(name)) {
			return asgierrors.ErrBadRequest
		}

		// Daphne drops any header name containing an underscore outright
		// (http_protocol.py, "Prevent CVE-2015-0219": some front-ends
		// conflate "Foo-Bar" and "Foo_Bar", letting a smuggled header
		// reach the application under a trusted name).
		if bytes.IndexByte(name, '_') != -1 {
			continue
		}

		value := bytes.TrimLeft(line[colon+1:], " \t")
		lowered := toLower(name)

		req.Headers = append(req.Headers, asgi.Header{Name: lowered, Value: value})

		switch {
		case asgi.EqualFold(name, "content-length"):
			n, ok := parseUint(value)
			if !ok {
				return asgierrors.ErrBadRequest
			}
			req.ContentLength = n
			req.HasContentLen = true
		case asgi.EqualFold(name, "transfer-encoding"):
			if bytes.Contains(bytesToLower(value), []byte("chunked")) {
				req.Chunked = true
			}
		case asgi.EqualFold(name, "connection"):
			req.Connection = uf.B2S(value)
		case asgi.EqualFold(name, "upgrade"):
			req.Upgrade = uf.B2S(value)
		}
	}

	return nil
}

func parseUint(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func toLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func bytesToLower(b []byte) []byte {
	return toLower(b)
}

func stripCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func percentDecodePath(raw []byte) (string, bool) {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '%':
			if i+2 >= len(raw) {
				return "", false
			}
			hi, lo := hexconv.Parse(raw[i+1]), hexconv.Parse(raw[i+2])
			if !validHex(raw[i+1]) || !validHex(raw[i+2]) {
				return "", false
			}
			out = append(out, hi<<4|lo)
			i += 2
		case c < 0x20 || c == 0x7f:
			return "", false
		case c > 0x7e:
			return "", false
		default:
			out = append(out, c)
		}
	}
	return uf.B2S(out), true
}

func validHex(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		return true
	default:
		return false
	}
}
