// Package testutil provides shared fixtures for tests across the
// module that need a real socket fd — the syscalls conn.Connection
// issues during Reset (SetNonblock, TCP_NODELAY) fail against anything
// that isn't an actual TCP socket, so fake fd numbers cannot stand in.
package testutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// TCPFdPair dials a loopback listener and returns the raw, connected
// file descriptors for both ends, plus a cleanup func that closes
// both. The returned fds are already duplicated out of Go's runtime
// poller via (*net.TCPConn).File, so callers own their lifecycle and
// may freely SetNonblock/Close them without racing the runtime netpoll.
func TCPFdPair(t *testing.T) (clientFd, serverFd int, cleanup func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	var serverConn net.Conn
	select {
	case serverConn = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accept loopback conn: %v", err)
	}

	clientFile, err := clientConn.(*net.TCPConn).File()
	require.NoError(t, err)
	serverFile, err := serverConn.(*net.TCPConn).File()
	require.NoError(t, err)

	_ = clientConn.Close()
	_ = serverConn.Close()

	// clientFile/serverFile must stay referenced until cleanup: each
	// wraps a dup'd fd behind a finalizer that would otherwise close it
	// out from under the caller as soon as the *os.File is collected.
	cleanup = func() {
		_ = clientFile.Close()
		_ = serverFile.Close()
	}
	return int(clientFile.Fd()), int(serverFile.Fd()), cleanup
}
