package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the subset of the CLI flags a --config YAML file may
// override, per SPEC_FULL.md §3 ("optional --config file loading
// supplementing flag-only CLI"). Values are only applied to flags the
// user didn't pass explicitly on the command line.
type fileConfig struct {
	Bind                    *string  `yaml:"bind"`
	Port                    *int     `yaml:"port"`
	UnixSocket              *string  `yaml:"unix_socket"`
	Endpoints               []string `yaml:"endpoints"`
	HTTPTimeout             *float64 `yaml:"http_timeout"`
	WebsocketTimeout        *float64 `yaml:"websocket_timeout"`
	WebsocketConnectTimeout *float64 `yaml:"websocket_connect_timeout"`
	ApplicationCloseTimeout *float64 `yaml:"application_close_timeout"`
	PingInterval            *float64 `yaml:"ping_interval"`
	PingTimeout             *float64 `yaml:"ping_timeout"`
	ShutdownGrace           *float64 `yaml:"shutdown_grace"`
	ServerName              *string  `yaml:"server_name"`
	AccessLog               *string  `yaml:"access_log"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// applyFileConfig merges fc into f, skipping any field whose matching
// flag was explicitly set on the command line (changed reports that).
func applyFileConfig(f *flags, fc *fileConfig, changed func(name string) bool) {
	if fc.Bind != nil && !changed("bind") {
		f.bind = *fc.Bind
	}
	if fc.Port != nil && !changed("port") {
		f.port = *fc.Port
	}
	if fc.UnixSocket != nil && !changed("unix-socket") {
		f.unixSocket = *fc.UnixSocket
	}
	if len(fc.Endpoints) > 0 && !changed("endpoint") {
		f.endpoints = fc.Endpoints
	}
	if fc.HTTPTimeout != nil && !changed("http-timeout") {
		f.httpTimeout = *fc.HTTPTimeout
	}
	if fc.WebsocketTimeout != nil && !changed("websocket-timeout") {
		f.websocketTimeout = *fc.WebsocketTimeout
	}
	if fc.WebsocketConnectTimeout != nil && !changed("websocket-connect-timeout") {
		f.websocketConnectTO = *fc.WebsocketConnectTimeout
	}
	if fc.ApplicationCloseTimeout != nil && !changed("application-close-timeout") {
		f.appCloseTimeout = *fc.ApplicationCloseTimeout
	}
	if fc.PingInterval != nil && !changed("ping-interval") {
		f.pingInterval = *fc.PingInterval
	}
	if fc.PingTimeout != nil && !changed("ping-timeout") {
		f.pingTimeout = *fc.PingTimeout
	}
	if fc.ShutdownGrace != nil && !changed("shutdown-grace") {
		f.shutdownGrace = *fc.ShutdownGrace
	}
	if fc.ServerName != nil && !changed("server-name") {
		f.serverName = *fc.ServerName
	}
	if fc.AccessLog != nil && !changed("access-log") {
		f.accessLogPath = *fc.AccessLog
	}
}
