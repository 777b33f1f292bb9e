package websocket

import (
	"github.com/webasgi/asgid/asgi"
	asgierrors "github.com/webasgi/asgid/errors"
)

// handshakeState mirrors spec.md §3's WebSocket cycle states:
// connecting -> connected, or connecting -> denied.
type handshakeState uint8

const (
	connecting handshakeState = iota
	connected
	denied
	closed
)

// Validator enforces the WebSocket send-side contract of spec.md §4.4:
// the application must resolve the handshake with exactly one
// websocket.accept or websocket.close before anything else, and a
// websocket.send must carry exactly one of text/bytes.
type Validator struct {
	state handshakeState
}

func (v *Validator) Validate(ev asgi.Event) error {
	switch v.state {
	case connecting:
		switch ev.Type {
		case asgi.TypeWebSocketAccept:
			v.state = connected
			return nil
		case asgi.TypeWebSocketClose:
			v.state = denied
			return nil
		default:
			return asgierrors.ErrProtocolViolation
		}
	case connected:
		switch ev.Type {
		case asgi.TypeWebSocketSend:
			if ev.HasText == ev.HasBytes {
				return asgierrors.ErrProtocolViolation
			}
			return nil
		case asgi.TypeWebSocketClose:
			v.state = closed
			return nil
		default:
			return asgierrors.ErrProtocolViolation
		}
	default:
		// closed/denied: further sends are ignored silently, per spec.md
		// §4.4 ("subsequent websocket.send is ignored") — not an error.
		return nil
	}
}
