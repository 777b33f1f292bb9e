package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// flags holds every CLI option named in spec.md §6, bound directly to
// cobra flag variables the way tunnox-core's root command binds its own.
type flags struct {
	bind               string
	port               int
	unixSocket         string
	fd                 int
	endpoints          []string
	rootPath           string
	serverName         string
	noServerName       bool
	accessLogPath      string
	logFmt             string
	httpTimeout        float64
	websocketTimeout   float64
	websocketConnectTO float64
	appCloseTimeout    float64
	pingInterval       float64
	pingTimeout        float64
	shutdownGrace      float64
	proxyHeaders       bool
	proxyHeadersHost   string
	proxyHeadersPort   string
	verbosity          int
	configFile         string
	tlsCert            string
	tlsKey             string
	reusePort          bool
}

var f flags

var rootCmd = &cobra.Command{
	Use:   "asgi-go module:attribute",
	Short: "Serve an ASGI application over HTTP/1.1, HTTP/2 and WebSocket",
	Long: `asgi-go binds a set of listeners and runs an ASGI application
callable registered under the given module:attribute reference.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageError{fmt.Errorf("expected exactly one module:attribute argument, got %d", len(args))}
		}
		return nil
	},
	RunE: runServe,
}

// Execute runs the root command, translating failures into the exit
// codes spec.md §6 assigns: 0 normal shutdown, 1 startup failure, 2
// invalid arguments.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()

	rootCmd.SilenceUsage = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks an error as an invalid-argument failure (exit 2)
// rather than a startup failure (exit 1).
type usageError struct{ error }

func init() {
	flagset := rootCmd.Flags()

	flagset.StringVarP(&f.bind, "bind", "b", "127.0.0.1", "interface to bind to")
	flagset.IntVarP(&f.port, "port", "p", 8000, "port to bind to")
	flagset.StringVarP(&f.unixSocket, "unix-socket", "u", "", "unix socket path to bind to")
	flagset.IntVar(&f.fd, "fd", -1, "file descriptor of an already-bound socket to serve on")
	flagset.StringSliceVarP(&f.endpoints, "endpoint", "e", nil, "Twisted-style endpoint descriptor, repeatable (e.g. tcp:port=8000:interface=0.0.0.0)")
	flagset.StringVar(&f.rootPath, "root-path", "", "ASGI root_path applied to every scope unless overridden by a proxy header")
	flagset.StringVar(&f.serverName, "server-name", "asgid", "value of the Server response header")
	flagset.BoolVar(&f.noServerName, "no-server-name", false, "omit the Server response header entirely")
	flagset.StringVar(&f.accessLogPath, "access-log", "", "file to write the access log to; '-' for stdout")
	flagset.StringVar(&f.logFmt, "log-fmt", "text", "access log format: text or json")
	flagset.Float64Var(&f.httpTimeout, "http-timeout", 0, "HTTP per-request timeout in seconds; 0 disables it")
	flagset.Float64Var(&f.websocketTimeout, "websocket-timeout", 86400, "maximum time a WebSocket connection may stay open, in seconds")
	flagset.Float64Var(&f.websocketConnectTO, "websocket-connect-timeout", 5, "WebSocket handshake timeout in seconds")
	flagset.Float64Var(&f.appCloseTimeout, "application-close-timeout", 10, "seconds to wait for an application task to unwind after disconnect")
	flagset.Float64Var(&f.pingInterval, "ping-interval", 20, "WebSocket keepalive ping interval in seconds")
	flagset.Float64Var(&f.pingTimeout, "ping-timeout", 30, "seconds to wait for a pong before dropping the connection")
	flagset.Float64Var(&f.shutdownGrace, "shutdown-grace", 10, "seconds to wait for in-flight connections to finish during graceful shutdown")
	flagset.BoolVar(&f.proxyHeaders, "proxy-headers", false, "trust X-Forwarded-For-style headers from the immediate peer")
	flagset.StringVar(&f.proxyHeadersHost, "proxy-headers-host", "X-Forwarded-For", "header carrying the original client address")
	flagset.StringVar(&f.proxyHeadersPort, "proxy-headers-port", "X-Forwarded-Port", "header carrying the original client port")
	flagset.IntVar(&f.verbosity, "verbosity", 1, "log verbosity, 0-3")
	flagset.StringVarP(&f.configFile, "config", "c", "", "YAML file overriding bind/port/timeout defaults before flags are applied")
	flagset.StringVar(&f.tlsCert, "tls-cert", "", "PEM certificate file; enables TLS + ALPN on the primary listener")
	flagset.StringVar(&f.tlsKey, "tls-key", "", "PEM private key file for --tls-cert")
	flagset.BoolVar(&f.reusePort, "reuse-port", false, "bind the primary TCP listener with SO_REUSEPORT, for zero-downtime restarts")
}
