package http1

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/webasgi/asgid/asgi"
	"github.com/webasgi/asgid/bridge"
	"github.com/webasgi/asgid/config"
	asgierrors "github.com/webasgi/asgid/errors"
	"github.com/webasgi/asgid/status"
	"github.com/webasgi/asgid/transport"
)

// Upgrader is implemented by protocol/websocket, invoked when an
// HTTP/1.1 request carries `Upgrade: websocket` (spec.md §4.2 "Upgrade
// detection"). Kept as an interface here, rather than a direct import,
// so protocol/http1 and protocol/websocket don't import each other;
// connmanager wires the concrete implementation in.
type Upgrader interface {
	Serve(ctx context.Context, client transport.Client, req ParsedRequest, conn bridge.ConnInfo, app asgi.App) error
}

// ErrorReporter receives application panics/errors so the connection
// manager can log them with connection id and traceback (spec.md §4.6,
// §7). May be nil.
type ErrorReporter func(err error, stack []byte)

// AccessLogFunc reports one completed request/response cycle's
// method, path, status and response size back to the connection
// manager's access logger (spec.md §4.6 "AccessLogEntry"), once per
// HTTP cycle on a keep-alive connection rather than once per TCP
// connection. May be nil.
type AccessLogFunc func(method, path string, statusCode int, size int64, start time.Time)

// Serve drives one HTTP/1.1 connection end to end: request cycles until
// the peer closes, a non-keep-alive response completes, or a timeout
// fires. The idle timeout is the client's read deadline and
// cfg.Timeouts.HTTP bounds the wait for a response to start; ctx only
// cancels. Serve returns when the connection should be closed.
func Serve(ctx context.Context, client transport.Client, cfg *config.Config, app asgi.App, conn bridge.ConnInfo, up Upgrader, onErr ErrorReporter, accessLog AccessLogFunc) error {
	for {
		block, leftover, err := ReadHeaderBlock(client, cfg)
		if err != nil {
			return err
		}

		req, err := Parse(block, cfg.Headers.Number.Maximal)
		if err != nil {
			code := statusFor(err)
			_ = WriteSynthetic(client, "1.1", code, cfg.ServerName, nil, "")
			if accessLog != nil {
				accessLog(firstNonEmpty(req.Method, "-"), firstNonEmpty(req.Path, "-"), int(code), 0, time.Now())
			}
			return err
		}
		req.Leftover = leftover

		if isUpgradeRequest(req) && up != nil {
			scopeReq := req
			if accessLog != nil {
				accessLog(req.Method, req.Path, 101, 0, time.Now())
			}
			return up.Serve(ctx, client, scopeReq, conn, app)
		}

		keepAlive := wantsKeepAlive(req)
		done, err := serveOneCycle(ctx, client, cfg, app, conn, req, keepAlive, onErr, accessLog)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func serveOneCycle(
	ctx context.Context,
	client transport.Client,
	cfg *config.Config,
	app asgi.App,
	conn bridge.ConnInfo,
	req ParsedRequest,
	keepAlive bool,
	onErr ErrorReporter,
	accessLog AccessLogFunc,
) (connectionDone bool, err error) {
	start := time.Now()
	respStatus := 0
	var respSize int64
	if accessLog != nil {
		defer func() {
			reportedStatus := respStatus
			if reportedStatus == 0 {
				reportedStatus = 500
			}
			accessLog(req.Method, req.Path, reportedStatus, respSize, start)
		}()
	}

	scope := bridge.BuildHTTPScope(bridge.RequestLine{
		Method:      req.Method,
		Path:        req.Path,
		RawPath:     req.RawPath,
		QueryString: req.QueryString,
		Headers:     req.Headers,
		HTTPVersion: req.HTTPVersion,
	}, conn, cfg)

	cycle := bridge.New(scope)
	cycle.SetValidator(&Validator{})

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	appDone := make(chan error, 1)
	go func() {
		appDone <- runApp(cycleCtx, app, scope, cycle)
	}()

	bodyDone := make(chan error, 1)
	go func() {
		bodyDone <- StreamBody(cycleCtx, client, cycle, req, cfg.Body)
	}()

	rw := NewResponseWriter(client, cfg.ServerName)
	var appErr error
	appFinished := false
	bodyFinished := false

	var preResponseTimer <-chan time.Time
	if cfg.Timeouts.HTTP > 0 {
		t := time.NewTimer(cfg.Timeouts.HTTP)
		defer t.Stop()
		preResponseTimer = t.C
	}

drive:
	for {
		select {
		case ev := <-cycle.Outbound():
			if rw.State() == AwaitingStart {
				preResponseTimer = nil
			}
			if ev.Type == asgi.TypeHTTPResponseStart {
				respStatus = ev.Status
			} else if ev.Type == asgi.TypeHTTPResponseBody {
				respSize += int64(len(ev.Body))
			}
			if werr := writeEvent(rw, scope.HTTPVersion, ev, keepAlive); werr != nil {
				cancel()
				return true, werr
			}
			if rw.State() == Done {
				break drive
			}
		case appErr = <-appDone:
			appFinished = true
			// An event the application queued just before returning is
			// written before the cycle is judged finished.
			select {
			case ev := <-cycle.Outbound():
				if ev.Type == asgi.TypeHTTPResponseStart {
					respStatus = ev.Status
				} else if ev.Type == asgi.TypeHTTPResponseBody {
					respSize += int64(len(ev.Body))
				}
				if werr := writeEvent(rw, scope.HTTPVersion, ev, keepAlive); werr != nil {
					cancel()
					return true, werr
				}
			default:
			}
			if rw.State() != Done {
				cancel()
				if !bodyFinished {
					<-bodyDone
				}
				if respStatus == 0 {
					respStatus = int(status.InternalServerError)
				}
				return finishAfterAppError(client, rw, scope.HTTPVersion, cfg.ServerName, appErr, onErr)
			}
			break drive
		case <-bodyDone:
			bodyFinished = true
		case <-preResponseTimer:
			cancel()
			respStatus = int(status.ServiceUnavailable)
			_ = WriteSynthetic(client, scope.HTTPVersion, status.ServiceUnavailable, cfg.ServerName,
				[][2]string{{"Retry-After", "1"}}, "")
			return true, asgierrors.ErrCancelled
		case <-ctx.Done():
			cancel()
			return true, ctx.Err()
		}
	}

	cancel()
	if !appFinished {
		select {
		case appErr = <-appDone:
		case <-time.After(cfg.Timeouts.ApplicationClose):
			appErr = asgierrors.ErrCancelled
		}
	}
	if appErr != nil && onErr != nil {
		onErr(appErr, nil)
	}

	return !(keepAlive && rw.KeepAlive()), nil
}

func writeEvent(rw *ResponseWriter, httpVersion string, ev asgi.Event, keepAlive bool) error {
	switch ev.Type {
	case asgi.TypeHTTPResponseStart:
		return rw.Start(httpVersion, ev.Status, ev.Headers, keepAlive)
	case asgi.TypeHTTPResponseBody:
		return rw.Body(ev.Body, ev.MoreBody)
	default:
		return asgierrors.ErrProtocolViolation
	}
}

func finishAfterAppError(client transport.Client, rw *ResponseWriter, httpVersion, serverName string, appErr error, onErr ErrorReporter) (bool, error) {
	if appErr != nil {
		if onErr != nil {
			onErr(appErr, debug.Stack())
		}
		if !rw.WroteAnyBytes() {
			_ = WriteSynthetic(client, httpVersion, status.InternalServerError, serverName, nil, "")
		}
		return true, nil
	}

	if !rw.WroteAnyBytes() {
		_ = WriteSynthetic(client, httpVersion, status.InternalServerError, serverName, nil, "")
	}
	return true, nil
}

func runApp(ctx context.Context, app asgi.App, scope asgi.Scope, cycle *bridge.Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asgierrors.ErrProtocolViolation
		}
	}()
	return app(ctx, scope, cycle, cycle)
}

func isUpgradeRequest(req ParsedRequest) bool {
	return strings.Contains(strings.ToLower(req.Connection), "upgrade") &&
		strings.EqualFold(req.Upgrade, "websocket")
}

func wantsKeepAlive(req ParsedRequest) bool {
	conn := strings.ToLower(req.Connection)
	if req.HTTPVersion == "1.0" {
		return strings.Contains(conn, "keep-alive")
	}
	return !strings.Contains(conn, "close")
}

func statusFor(err error) status.Code {
	switch err {
	case asgierrors.ErrURITooLong:
		return status.RequestURITooLong
	case asgierrors.ErrTooManyHeaders, asgierrors.ErrHeaderFieldsTooLarge:
		return status.HeaderFieldsTooLarge
	case asgierrors.ErrMethodNotImplemented:
		return status.NotImplemented
	case asgierrors.ErrUnsupportedProtocol:
		return status.HTTPVersionNotSupported
	default:
		return status.BadRequest
	}
}
