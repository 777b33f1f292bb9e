//go:build !windows

package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindTCPReusePortTwoListeners(t *testing.T) {
	l1, err := bindTCPReusePort("127.0.0.1:0")
	require.NoError(t, err)
	defer l1.Close()

	addr := l1.Addr().String()

	l2, err := bindTCPReusePort(addr)
	require.NoError(t, err)
	defer l2.Close()

	require.Equal(t, addr, l2.Addr().String())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	conn.Close()
}
