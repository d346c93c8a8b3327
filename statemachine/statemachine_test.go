package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tarodb/wire/conn"
	"github.com/tarodb/wire/internal/testutil"
	"github.com/tarodb/wire/protocol"
	"golang.org/x/sys/unix"
)

// echoOnceHandler reads exactly one 5-byte frame header plus its
// payload and writes it back verbatim, signalling StatusDone once it
// has replied so Run closes the connection — enough surface to drive
// Run through its full happy path in one shot.
type echoOnceHandler struct {
	replied bool
}

func (h *echoOnceHandler) Process(io protocol.IOSurface) protocol.Status {
	if h.replied {
		return protocol.StatusDone
	}

	var hdr [protocol.FrameHeaderSize]byte
	if !io.ReadBytes(hdr[:], protocol.FrameHeaderSize) {
		return protocol.StatusNeedRead
	}
	payloadLen := int(hdr[4]) - protocol.LengthFieldSize // small fixed-size test payloads only
	payload := make([]byte, payloadLen)
	if payloadLen > 0 && !io.ReadBytes(payload, payloadLen) {
		return protocol.StatusNeedRead
	}

	if !io.BufferWriteBytes(payload, hdr[0]) {
		return protocol.StatusNeedWrite
	}
	h.replied = true
	return protocol.StatusDone
}

func TestRunEchoesThenCloses(t *testing.T) {
	cfd, sfd, cleanup := testutil.TCPFdPair(t)
	defer cleanup()

	w := testutil.NewFakeWorkerHandle(0)
	c, err := conn.New(sfd, "peer", protocol.EventRead, w, func() protocol.Handler { return &echoOnceHandler{} })
	require.NoError(t, err)

	_, werr := unix.Write(cfd, []byte{0x41, 0, 0, 0, 7, 'h', 'i', '!'})
	require.NoError(t, werr)

	require.Eventually(t, func() bool {
		Run(c)
		return c.Disconnected()
	}, testutil.ShortTimeout, testutil.ShortTick)

	got := make([]byte, 8)
	n, rerr := unix.Read(cfd, got)
	require.NoError(t, rerr)
	require.Equal(t, []byte{0x41, 0, 0, 0, 7, 'h', 'i', '!'}, got[:n])
}

func TestRunClosesAlreadyDisconnectedConnection(t *testing.T) {
	_, sfd, cleanup := testutil.TCPFdPair(t)
	defer cleanup()

	w := testutil.NewFakeWorkerHandle(0)
	c, err := conn.New(sfd, "peer", protocol.EventRead, w, func() protocol.Handler { return &echoOnceHandler{} })
	require.NoError(t, err)

	c.CloseSocket()
	require.NotPanics(t, func() { Run(c) })
	require.True(t, c.Disconnected())
}
