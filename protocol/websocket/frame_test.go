package websocket

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	asgierrors "github.com/webasgi/asgid/errors"
)

type queueClient struct {
	reads [][]byte
	wrote []byte
}

func (c *queueClient) Read() ([]byte, error) {
	if len(c.reads) == 0 {
		return nil, errors.New("queueClient: exhausted")
	}
	b := c.reads[0]
	c.reads = c.reads[1:]
	return b, nil
}

func (c *queueClient) Pushback(b []byte)           { c.reads = append([][]byte{b}, c.reads...) }
func (c *queueClient) Write(b []byte) (int, error) { c.wrote = append(c.wrote, b...); return len(b), nil }
func (c *queueClient) Conn() net.Conn              { return nil }
func (c *queueClient) Remote() net.Addr            { return nil }
func (c *queueClient) Close() error                { return nil }

func maskFrame(fin bool, opcode Opcode, payload []byte, mask [4]byte) []byte {
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}

	b0 := byte(opcode)
	if fin {
		b0 |= 0x80
	}

	buf := []byte{b0, 0x80 | byte(len(payload))}
	buf = append(buf, mask[:]...)
	buf = append(buf, masked...)
	return buf
}

func TestReadFrameDecodesMaskedTextFrame(t *testing.T) {
	mask := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	client := &queueClient{reads: [][]byte{maskFrame(true, OpText, []byte("hello"), mask)}}

	r := newReader(client, nil, 1<<20)
	frame, err := r.ReadFrame()
	require.NoError(t, err)
	require.True(t, frame.Fin)
	require.Equal(t, OpText, frame.Opcode)
	require.Equal(t, "hello", string(frame.Payload))
}

func TestReadFrameRejectsUnmaskedFrame(t *testing.T) {
	// server MUST reject a received frame lacking the mask bit (spec.md
	// §4.4 "masking required on received frames")
	client := &queueClient{reads: [][]byte{{0x81, 0x02, 'h', 'i'}}}

	r := newReader(client, nil, 1<<20)
	_, err := r.ReadFrame()
	require.Equal(t, asgierrors.ErrBadFrame, err)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	mask := [4]byte{1, 2, 3, 4}
	payload := make([]byte, 10)

	head := []byte{0x82, 0x80 | 126}
	var extLen [2]byte
	binary.BigEndian.PutUint16(extLen[:], uint16(len(payload)))
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}

	wire := append(append(append(head, extLen[:]...), mask[:]...), masked...)
	client := &queueClient{reads: [][]byte{wire}}

	r := newReader(client, nil, 4)
	_, err := r.ReadFrame()
	require.Equal(t, asgierrors.ErrOversizeMessage, err)
}

func TestReadFrameUsesLeftoverBeforeReading(t *testing.T) {
	mask := [4]byte{1, 1, 1, 1}
	wire := maskFrame(true, OpBinary, []byte("x"), mask)

	client := &queueClient{} // no queued reads: must be satisfied from leftover
	r := newReader(client, wire, 1<<20)

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, OpBinary, frame.Opcode)
	require.Equal(t, "x", string(frame.Payload))
}

func TestWriteFrameIsUnmasked(t *testing.T) {
	client := &queueClient{}
	require.NoError(t, WriteFrame(client, true, OpText, []byte("ok")))

	require.Equal(t, byte(0x81), client.wrote[0])
	require.Equal(t, byte(0x02), client.wrote[1]) // no mask bit set
	require.Equal(t, "ok", string(client.wrote[2:]))
}

func TestWriteCloseEncodesCode(t *testing.T) {
	client := &queueClient{}
	require.NoError(t, WriteClose(client, 1001))

	require.Equal(t, byte(0x88), client.wrote[0])
	require.Equal(t, byte(0x02), client.wrote[1])
	require.EqualValues(t, 1001, binary.BigEndian.Uint16(client.wrote[2:4]))
}
