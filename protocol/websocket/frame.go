package websocket

import (
	"encoding/binary"

	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/transport"
)

// Opcode is the RFC 6455 §5.2 frame opcode. spec.md §8 pins the
// invariant that "no frame opcode outside {text, binary, ping, pong,
// close, continuation} is ever written to the network" — this is the
// exhaustive set.
type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// Frame is one decoded RFC 6455 frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

// maxHeaderLen is the largest a frame header (2 + 8 length bytes + 4
// mask bytes) can be.
const maxHeaderLen = 14

// reader incrementally decodes frames off a transport.Client, reusing
// whatever bytes were pushed back from the HTTP/1.1 handshake parse.
type reader struct {
	client  transport.Client
	pending []byte
	maxLen  uint64
}

func newReader(client transport.Client, leftover []byte, maxLen uint64) *reader {
	return &reader{client: client, pending: leftover, maxLen: maxLen}
}

func (r *reader) fill(n int) ([]byte, error) {
	for len(r.pending) < n {
		chunk, err := r.client.Read()
		if err != nil {
			return nil, err
		}
		r.pending = append(r.pending, chunk...)
	}
	return r.pending, nil
}

func (r *reader) consume(n int) {
	r.pending = r.pending[n:]
}

// ReadFrame decodes exactly one frame, validating that it's masked
// (spec.md §4.4 "masking required on received frames") and within the
// configured size cap.
func (r *reader) ReadFrame() (Frame, error) {
	head, err := r.fill(2)
	if err != nil {
		return Frame{}, err
	}

	fin := head[0]&0x80 != 0
	opcode := Opcode(head[0] & 0x0f)
	masked := head[1]&0x80 != 0
	length := uint64(head[1] & 0x7f)

	hdrLen := 2
	switch length {
	case 126:
		b, err := r.fill(4)
		if err != nil {
			return Frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(b[2:4]))
		hdrLen = 4
	case 127:
		b, err := r.fill(10)
		if err != nil {
			return Frame{}, err
		}
		length = binary.BigEndian.Uint64(b[2:10])
		hdrLen = 10
	}

	if !masked {
		return Frame{}, asgierrors.ErrBadFrame
	}
	if length > r.maxLen {
		return Frame{}, asgierrors.ErrOversizeMessage
	}

	total := hdrLen + 4 + int(length)
	buf, err := r.fill(total)
	if err != nil {
		return Frame{}, err
	}

	mask := buf[hdrLen : hdrLen+4]
	payload := make([]byte, length)
	copy(payload, buf[hdrLen+4:total])
	for i := range payload {
		payload[i] ^= mask[i%4]
	}

	r.consume(total)

	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, nil
}

// WriteFrame encodes and writes one unmasked frame (spec.md §4.4
// "server-sent frames unmasked").
func WriteFrame(client transport.Client, fin bool, opcode Opcode, payload []byte) error {
	buf := make([]byte, 0, maxHeaderLen+len(payload))

	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}
	buf = append(buf, b0)

	switch {
	case len(payload) < 126:
		buf = append(buf, byte(len(payload)))
	case len(payload) <= 0xffff:
		buf = append(buf, 126)
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(payload)))
		buf = append(buf, l[:]...)
	default:
		buf = append(buf, 127)
		var l [8]byte
		binary.BigEndian.PutUint64(l[:], uint64(len(payload)))
		buf = append(buf, l[:]...)
	}

	buf = append(buf, payload...)
	_, err := client.Write(buf)
	return err
}

// WriteClose writes a close frame carrying the given status code.
func WriteClose(client transport.Client, code int) error {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(code))
	return WriteFrame(client, true, OpClose, payload)
}
