package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigMapsTimeoutsAndNames(t *testing.T) {
	f := flags{
		httpTimeout:        30,
		websocketTimeout:   120,
		websocketConnectTO: 2.5,
		appCloseTimeout:    5,
		pingInterval:       10,
		pingTimeout:        15,
		shutdownGrace:      20,
		serverName:         "myserver",
		rootPath:           "/forum",
		proxyHeaders:       true,
		proxyHeadersHost:   "X-Real-IP",
		proxyHeadersPort:   "X-Real-Port",
		logFmt:             "json",
		accessLogPath:      "-",
	}

	cfg := buildConfig(f)

	require.Equal(t, 30*time.Second, cfg.Timeouts.HTTP)
	require.Equal(t, 2500*time.Millisecond, cfg.Timeouts.WebSocketConnect)
	require.Equal(t, 20*time.Second, cfg.Timeouts.ShutdownGrace)
	require.Equal(t, "myserver", cfg.ServerName)
	require.Equal(t, "/forum", cfg.RootPath)
	require.True(t, cfg.ProxyHeaders.Enabled)
	require.Equal(t, "X-Real-IP", cfg.ProxyHeaders.HostHeader)
	require.True(t, cfg.AccessLog.JSON)
	require.True(t, cfg.AccessLog.Enabled)
}

func TestBuildConfigNoServerNameWins(t *testing.T) {
	cfg := buildConfig(flags{serverName: "asgid", noServerName: true})
	require.Equal(t, "", cfg.ServerName)
}

func TestVerbosityToLevel(t *testing.T) {
	require.Equal(t, logrus.ErrorLevel, verbosityToLevel(0))
	require.Equal(t, logrus.InfoLevel, verbosityToLevel(1))
	require.Equal(t, logrus.DebugLevel, verbosityToLevel(2))
	require.Equal(t, logrus.DebugLevel, verbosityToLevel(3))
}
