package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyFileConfigSkipsChangedFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind: 0.0.0.0\nport: 9001\n"), 0644))

	fc, err := loadFileConfig(path)
	require.NoError(t, err)

	f := flags{bind: "127.0.0.1", port: 8000}
	changed := map[string]bool{"port": true}

	applyFileConfig(&f, fc, func(name string) bool { return changed[name] })

	require.Equal(t, "0.0.0.0", f.bind) // not explicitly set, file wins
	require.Equal(t, 8000, f.port)      // explicitly set, flag wins
}
