package main

import (
	"encoding/binary"

	"github.com/tarodb/wire/protocol"
)

// echoHandler implements protocol.Handler by writing back every packet
// it reads, unchanged, under the same type tag it arrived with — the
// same shape as the teacher's Echo.MessageCallback, adapted to the
// length-prefixed framing this module's IOSurface speaks instead of a
// single flat byte slice.
type echoHandler struct {
	headerParsed bool
	pktType      byte
	payloadLen   int
	payload      []byte
}

func newEchoHandler() protocol.Handler {
	return &echoHandler{}
}

func (h *echoHandler) Process(io protocol.IOSurface) protocol.Status {
	for {
		if !h.headerParsed {
			var hdr [protocol.FrameHeaderSize]byte
			if !io.ReadBytes(hdr[:], protocol.FrameHeaderSize) {
				return protocol.StatusNeedRead
			}

			total := binary.BigEndian.Uint32(hdr[1:])
			payloadLen := int(total) - protocol.LengthFieldSize
			if payloadLen < 0 {
				return protocol.StatusError
			}

			h.pktType = hdr[0]
			h.payloadLen = payloadLen
			h.headerParsed = true
		}

		// The payload is kept across a StatusNeedWrite return, since its
		// bytes have already been consumed from the read buffer.
		if h.payload == nil {
			payload := make([]byte, h.payloadLen)
			if h.payloadLen > 0 && !io.ReadBytes(payload, h.payloadLen) {
				return protocol.StatusNeedRead
			}
			h.payload = payload
		}

		if !io.BufferWriteBytes(h.payload, h.pktType) {
			return protocol.StatusNeedWrite
		}

		h.headerParsed = false
		h.payload = nil
		return protocol.StatusContinue
	}
}
