// Package config holds settings used across the protocol adapters, the
// bridge and the connection manager — mainly restrictions, limitations,
// timeouts and pre-allocations.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try
// to initialize the config manually, because most likely this will
// result in ambiguous errors.
package config

import "time"

type (
	HeadersNumber struct {
		Default, Maximal int
	}

	HeadersSpace struct {
		Default, Maximal int
	}

	NETWriteBufferSize struct {
		Default, Maximal int
	}

	URIRequestLineSize struct {
		Default, Maximal int
	}
)

type (
	URI struct {
		// RequestLineSize is a shared buffer storing path and query string.
		// Setting the maximal boundary too low results in ambiguous errors
		// for otherwise legitimate requests.
		RequestLineSize URIRequestLineSize
	}

	Headers struct {
		// Number is responsible for the header list's initial/maximal size.
		Number HeadersNumber
		// Space limits the amount of memory occupied by request headers.
		Space HeadersSpace
	}

	Body struct {
		// MaxSize describes the maximal size of a request body that will be
		// handed to the application. 0 rejects any request carrying a body.
		// Use math.MaxUint64 to disable the limit.
		MaxSize uint64
		// MaxChunkSize caps a single chunk's declared size while decoding
		// a chunked transfer-encoded body, handed to chunkedbody.Parser.
		MaxChunkSize uint
	}

	NET struct {
		// ReadBufferSize is the size of the buffer used to read from the
		// socket.
		ReadBufferSize int
		// AcceptLoopInterruptPeriod controls how often the Accept() call is
		// interrupted in order to check whether it's time to stop.
		AcceptLoopInterruptPeriod time.Duration
		// WriteBufferSize stores the HTTP response being transmitted.
		WriteBufferSize NETWriteBufferSize
		// MaxConcurrentAccepts caps how many connections each listener
		// serves at once; the cap is not shared across listeners. A socket
		// accepted beyond it gets a fixed 503 response and is closed.
		MaxConcurrentAccepts int
	}

	// Timeouts groups every deadline the connection manager enforces; see
	// spec.md §4.6 and §5.
	Timeouts struct {
		// HTTP bounds how long an HTTP/1.1 or HTTP/2 connection may sit idle
		// between requests, and how long the application may take to send
		// the first response event for one before a 503 is written instead.
		HTTP time.Duration `test:"nullable"`
		// WebSocketConnect bounds how long an application may take to
		// resolve websocket.connect with accept/close before the handshake
		// is abandoned.
		WebSocketConnect time.Duration
		// WebSocket is the longest an open WebSocket connection stays open
		// once the handshake has completed; traffic does not extend it, and
		// when it runs out the connection is closed with code 1000.
		WebSocket time.Duration
		// ApplicationClose bounds how long the server waits, after sending
		// http.disconnect or websocket.disconnect, for the application task
		// to actually return.
		ApplicationClose time.Duration
		// PingInterval is how often a ping frame is sent on an otherwise
		// idle, established WebSocket connection. Zero disables pinging.
		PingInterval time.Duration
		// PingTimeout bounds how long an established WebSocket connection
		// may go without receiving any frame before it is closed with 1011.
		PingTimeout time.Duration
		// ShutdownGrace bounds how long Server.Shutdown waits for in-flight
		// connections to finish on their own — each closes its shutdown
		// channel and, for a WebSocket, sends a graceful 1001 — before
		// hard-cancelling whatever is still open (spec.md §4.6).
		ShutdownGrace time.Duration
	}

	// ProxyHeaders controls trusting X-Forwarded-For-style headers from an
	// upstream reverse proxy (spec.md §4.5, recovered from Daphne's
	// get_remote_addr/parse_x_forwarded_for).
	ProxyHeaders struct {
		// Enabled turns on proxy header parsing at all. Disabled by default:
		// trusting these headers from an untrusted peer lets it spoof its
		// own client address.
		Enabled bool `test:"nullable"`
		// HostHeader names the header carrying the original client address,
		// e.g. "X-Forwarded-For".
		HostHeader string
		// PortHeader names the header carrying the original client port,
		// e.g. "X-Forwarded-Port". Empty disables port rewriting.
		PortHeader string
		// TrustedHosts restricts which immediate peer addresses are allowed
		// to set the headers above. "*" trusts any peer.
		TrustedHosts []string
	}

	// AccessLog controls whether and how completed requests/connections are
	// logged (spec.md §4.6, grounded on daphne/access.py).
	AccessLog struct {
		Enabled bool
		// JSON selects a json-iterator-encoded record instead of the
		// default NCSA-combined-style line.
		JSON bool `test:"nullable"`
	}
)

// Config holds settings used across the server: restrictions, limitations,
// pre-allocations and timeouts.
type Config struct {
	URI     URI
	Headers Headers
	Body    Body
	NET     NET

	Timeouts     Timeouts
	ProxyHeaders ProxyHeaders
	AccessLog    AccessLog

	// ServerName is sent as the Server response header on every HTTP
	// response; empty suppresses the header entirely.
	ServerName string
	// RootPath is the default ASGI root_path applied to every scope unless
	// a proxy header overrides it. Empty (the common case) is valid.
	RootPath string `test:"nullable"`
	// WebSocketSubprotocols is not read by the WebSocket handler: a
	// websocket scope's subprotocol list comes only from the client's
	// Sec-WebSocket-Protocol header.
	WebSocketSubprotocols []string `test:"nullable"`

	// SyncWorkers holds the ASGI_THREADS value parsed by the CLI. Nothing
	// in the server reads it: no applib.Pool is built from it, so it does
	// not bound how application callables run.
	SyncWorkers int `test:"nullable"`
}

// Default returns a default configuration. The maximal boundaries are
// permissive; the defaults themselves are well-balanced for an ordinary
// deployment behind nothing in particular.
func Default() *Config {
	return &Config{
		URI: URI{
			RequestLineSize: URIRequestLineSize{
				Default: 2 * 1024,
				// allow at most 16kb of request line, which is effectively
				// pretty tolerant, considering most web servers limit it to
				// 4-8kb.
				Maximal: 16 * 1024,
			},
		},
		Headers: Headers{
			Number: HeadersNumber{
				Default: 10,
				Maximal: 100,
			},
			Space: HeadersSpace{
				Default: 1 * 1024,  // 1kb for headers must be fairly enough in most cases.
				Maximal: 16 * 1024, // However, there also might be extremely long cookies.
			},
		},
		Body: Body{
			MaxSize:      512 * 1024 * 1024, // 512 megabytes
			MaxChunkSize: 64 * 1024,
		},
		NET: NET{
			ReadBufferSize:            4 * 1024,
			AcceptLoopInterruptPeriod: 5 * time.Second,
			WriteBufferSize: NETWriteBufferSize{
				Default: 2 * 1024,
				Maximal: 64 * 1024,
			},
			MaxConcurrentAccepts: 1024,
		},
		Timeouts: Timeouts{
			HTTP:             0, // disabled by default (spec.md §4.2); conn.go treats <= 0 as "no per-request timeout"
			WebSocketConnect: 5 * time.Second,
			WebSocket:        86400 * time.Second,
			ApplicationClose: 10 * time.Second,
			PingInterval:     20 * time.Second,
			PingTimeout:      30 * time.Second,
			ShutdownGrace:    10 * time.Second,
		},
		ProxyHeaders: ProxyHeaders{
			Enabled:      false,
			HostHeader:   "X-Forwarded-For",
			PortHeader:   "X-Forwarded-Port",
			TrustedHosts: []string{"*"},
		},
		AccessLog: AccessLog{
			Enabled: true,
			JSON:    false,
		},
		ServerName: "asgid",
		RootPath:   "",
	}
}
