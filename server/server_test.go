package server

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tarodb/wire/protocol"
)

type echoHandler struct {
	headerParsed bool
	pktType      byte
	payloadLen   int
}

func (h *echoHandler) Process(io protocol.IOSurface) protocol.Status {
	if !h.headerParsed {
		var hdr [protocol.FrameHeaderSize]byte
		if !io.ReadBytes(hdr[:], protocol.FrameHeaderSize) {
			return protocol.StatusNeedRead
		}
		total := binary.BigEndian.Uint32(hdr[1:])
		h.payloadLen = int(total) - protocol.LengthFieldSize
		h.pktType = hdr[0]
		h.headerParsed = true
	}

	payload := make([]byte, h.payloadLen)
	if h.payloadLen > 0 && !io.ReadBytes(payload, h.payloadLen) {
		return protocol.StatusNeedRead
	}
	if !io.BufferWriteBytes(payload, h.pktType) {
		return protocol.StatusNeedWrite
	}
	h.headerParsed = false
	return protocol.StatusContinue
}

func TestServerEndToEndEcho(t *testing.T) {
	s, err := New(
		protocol.Network("tcp"),
		protocol.Addr("127.0.0.1:0"),
		protocol.NumWorkers(2),
		protocol.WithHandlerFactory(func() protocol.Handler { return &echoHandler{} }),
	)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	addr := s.accept.Addr().String()

	conn, err := net.DialTimeout("tcp", addr, time.Second*5)
	require.NoError(t, err)
	defer conn.Close()

	frame := []byte{0x41, 0, 0, 0, 9, 'h', 'e', 'l', 'l', 'o'}
	_, err = conn.Write(frame)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := make([]byte, len(frame))
	_, err = readFull(conn, got)
	require.NoError(t, err)
	require.Equal(t, frame, got)

	require.Eventually(t, func() bool {
		return s.Registry().Len() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
