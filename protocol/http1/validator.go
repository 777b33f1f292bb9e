package http1

import (
	"github.com/webasgi/asgid/asgi"
	asgierrors "github.com/webasgi/asgid/errors"
)

// Validator enforces the HTTP response event-order contract of spec.md
// §4.2 on the bridge's send side: exactly one http.response.start before
// any http.response.body, and nothing once the cycle is Done.
type Validator struct {
	started bool
	done    bool
}

func (v *Validator) Validate(ev asgi.Event) error {
	switch ev.Type {
	case asgi.TypeHTTPResponseStart:
		if v.started {
			return asgierrors.ErrAlreadyResponded
		}
		v.started = true
		return nil
	case asgi.TypeHTTPResponseBody:
		if !v.started {
			return asgierrors.ErrNotYetResponded
		}
		if v.done {
			return asgierrors.ErrProtocolViolation
		}
		if !ev.MoreBody {
			v.done = true
		}
		return nil
	default:
		return asgierrors.ErrProtocolViolation
	}
}
