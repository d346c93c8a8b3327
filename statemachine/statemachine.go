// Package statemachine implements the free-function driver that
// advances a single Connection: it flushes pending output, hands
// available input to the protocol handler, and decides when to re-arm
// the reactor and yield back to the worker's event loop.
package statemachine

import (
	"github.com/tarodb/wire/conn"
	"github.com/tarodb/wire/protocol"
)

// Run advances c until one of four terminal conditions holds:
// disconnected, blocked on read, blocked on write, or the handler
// signalled end-of-session. It never blocks the calling goroutine on
// I/O — every socket operation it triggers is non-blocking — so it is
// safe to call directly from a reactor readiness callback.
func Run(c *conn.Connection) {
	for {
		if c.Disconnected() {
			c.CloseSocket()
			return
		}

		if c.HasPendingWrite() {
			if !c.FlushWriteBuffer() {
				if c.Disconnected() {
					c.CloseSocket()
					return
				}
				rearm(c)
				return
			}
		}

		switch status := c.Handler().Process(c); status {
		case protocol.StatusContinue:
			continue
		case protocol.StatusNeedRead, protocol.StatusNeedWrite:
			if c.Disconnected() {
				c.CloseSocket()
				return
			}
			rearm(c)
			return
		case protocol.StatusDone:
			// Send whatever the handler buffered before ending the
			// session. The close follows either way: bytes a blocked
			// socket did not accept are dropped.
			if c.HasPendingWrite() {
				_ = c.FlushWriteBuffer()
			}
			c.CloseSocket()
			return
		case protocol.StatusError:
			c.CloseSocket()
			return
		default:
			c.CloseSocket()
			return
		}
	}
}

// rearm re-registers the connection for read readiness, and for write
// readiness too whenever a prior flush left bytes buffered. Reading
// stays armed unconditionally: a client may pipeline further requests
// while a large response is still draining, and we want to notice if
// it closes the connection out from under us either way.
func rearm(c *conn.Connection) {
	events := protocol.EventRead
	if c.HasPendingWrite() {
		events |= protocol.EventWrite
	}
	_ = c.ArmEvents(events)
}
