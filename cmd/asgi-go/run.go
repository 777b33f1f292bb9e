package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/webasgi/asgid/accesslog"
	"github.com/webasgi/asgid/applib"
	"github.com/webasgi/asgid/config"
	"github.com/webasgi/asgid/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	if f.configFile != "" {
		fc, err := loadFileConfig(f.configFile)
		if err != nil {
			return usageError{fmt.Errorf("--config: %w", err)}
		}
		applyFileConfig(&f, fc, cmd.Flags().Changed)
	}

	if f.rootPath == "" {
		f.rootPath = os.Getenv("DAPHNE_ROOT_PATH")
	}

	if f.logFmt != "text" && f.logFmt != "json" {
		return usageError{fmt.Errorf("--log-fmt: must be 'text' or 'json', got %q", f.logFmt)}
	}
	if f.verbosity < 0 || f.verbosity > 3 {
		return usageError{fmt.Errorf("--verbosity: must be 0-3, got %d", f.verbosity)}
	}

	endpoints, err := buildEndpoints(f)
	if err != nil {
		return usageError{err}
	}

	app, err := applib.DefaultRegistry.Load(args[0])
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}

	cfg := buildConfig(f)

	log := logrus.New()
	log.SetLevel(verbosityToLevel(f.verbosity))

	access, closeAccess, err := buildAccessLogger(f)
	if err != nil {
		return fmt.Errorf("startup: --access-log: %w", err)
	}
	if closeAccess != nil {
		defer closeAccess()
	}

	srv := server.New(cfg, app, log, access)
	for _, d := range endpoints {
		srv.AddEndpoint(d)
	}

	srv.OnStart(func() {
		log.WithField("endpoints", len(endpoints)).Info("asgi-go: accepting connections")
	})
	srv.OnStopped(func() {
		log.Info("asgi-go: stopped")
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("asgi-go: shutdown requested")
		srv.Shutdown()
	}()

	return srv.Run()
}

func buildConfig(f flags) *config.Config {
	cfg := config.Default()

	cfg.Timeouts.HTTP = time.Duration(f.httpTimeout * float64(time.Second))
	cfg.Timeouts.WebSocket = time.Duration(f.websocketTimeout * float64(time.Second))
	cfg.Timeouts.WebSocketConnect = time.Duration(f.websocketConnectTO * float64(time.Second))
	cfg.Timeouts.ApplicationClose = time.Duration(f.appCloseTimeout * float64(time.Second))
	cfg.Timeouts.PingInterval = time.Duration(f.pingInterval * float64(time.Second))
	cfg.Timeouts.PingTimeout = time.Duration(f.pingTimeout * float64(time.Second))
	cfg.Timeouts.ShutdownGrace = time.Duration(f.shutdownGrace * float64(time.Second))

	cfg.RootPath = f.rootPath
	if f.noServerName {
		cfg.ServerName = ""
	} else {
		cfg.ServerName = f.serverName
	}

	cfg.ProxyHeaders.Enabled = f.proxyHeaders
	cfg.ProxyHeaders.HostHeader = f.proxyHeadersHost
	cfg.ProxyHeaders.PortHeader = f.proxyHeadersPort

	cfg.AccessLog.Enabled = f.accessLogPath != ""
	cfg.AccessLog.JSON = f.logFmt == "json"

	if threads := os.Getenv("ASGI_THREADS"); threads != "" {
		if n, err := strconv.Atoi(threads); err == nil && n > 0 {
			cfg.SyncWorkers = n
		}
	}

	return cfg
}

// buildAccessLogger wires --access-log/--log-fmt into an accesslog.Logger
// writing to the named file, or stdout for "-". Returns a nil Logger
// when access logging is off, matching Manager's "access may be nil"
// contract.
func buildAccessLogger(f flags) (*accesslog.Logger, func(), error) {
	if f.accessLogPath == "" {
		return nil, nil, nil
	}

	w := os.Stdout
	var closer func()
	if f.accessLogPath != "-" {
		file, err := os.OpenFile(f.accessLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		w = file
		closer = func() { _ = file.Close() }
	}

	var sink accesslog.Sink
	if f.logFmt == "json" {
		sink = accesslog.NewJSONSink(w)
	} else {
		sink = accesslog.NewTextSink(w)
	}

	logger := accesslog.New(sink, 1024, nil)
	stop := func() {
		logger.Close()
		if closer != nil {
			closer()
		}
	}
	return logger, stop, nil
}

// verbosityToLevel mirrors daphne's -v scale: 0 only errors, 1 (the
// default) informational messages, 2+ debug detail.
func verbosityToLevel(v int) logrus.Level {
	switch v {
	case 0:
		return logrus.ErrorLevel
	case 1:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
