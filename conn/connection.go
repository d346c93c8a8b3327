// Package conn implements the per-client Connection: its socket, read
// and write buffers, and the packet framing and flush logic the state
// machine drives. A Connection is exclusively owned by one Worker at a
// time; nothing here takes a lock because nothing but that Worker's
// goroutine ever touches it.
package conn

import (
	"encoding/binary"
	"fmt"
	"time"

	atomicx "github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/panjf2000/gnet/pkg/pool/bytebuffer"
	"github.com/tarodb/wire/buffer"
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/reactor"
	"golang.org/x/sys/unix"
)

// WorkerHandle is the slice of Worker a Connection needs: its reactor,
// for (re-)registering fd readiness, and an identifying label for
// logging. Defined here rather than imported from package worker to
// avoid an import cycle (worker owns a ConnectionRegistry keyed on
// *Connection).
type WorkerHandle interface {
	Reactor() reactor.Reactor
	ID() int
}

// Connection is a per-client object: socket, read/write Buffers, the
// reactor registration it currently holds, and its lazily-created
// protocol Handler.
type Connection struct {
	fd int

	disconnected atomicx.Bool
	eventFlags   protocol.EventType
	registered   bool

	rbuf buffer.Buffer
	wbuf buffer.Buffer

	worker  WorkerHandle
	handler protocol.Handler
	factory protocol.HandlerFactory

	peer string

	lastFlushBlocked bool
	lastActiveNanos  atomicx.Int64
}

// New allocates a Connection for fd. Callers normally go through
// ConnectionRegistry.CreateOrReset instead of calling this directly, so
// that fd-slot reuse shares one allocation across the fd's lifetime.
func New(fd int, peer string, flags protocol.EventType, w WorkerHandle, factory protocol.HandlerFactory) (*Connection, error) {
	c := &Connection{factory: factory}
	if err := c.Reset(fd, peer, flags, w); err != nil {
		return nil, err
	}
	return c, nil
}

// Fd returns the connection's current socket descriptor.
func (c *Connection) Fd() int { return c.fd }

// PeerAddr returns the remote address captured at accept time.
func (c *Connection) PeerAddr() string { return c.peer }

// Disconnected reports the latch set by RefillReadBuffer,
// FlushWriteBuffer or CloseSocket on any unrecoverable condition.
func (c *Connection) Disconnected() bool { return c.disconnected.Get() }

// EventFlags returns the reactor mask currently believed to be armed.
func (c *Connection) EventFlags() protocol.EventType { return c.eventFlags }

// Remaining exposes rbuf.Remaining to the protocol Handler via the
// IOSurface interface, so it can tell whole packets from partial ones
// without reaching into buffer internals.
func (c *Connection) Remaining() int { return c.rbuf.Remaining() }

// Handler returns the connection's protocol handler, creating it on
// first use. Per the data model, its presence marks that the protocol
// handshake has begun.
func (c *Connection) Handler() protocol.Handler {
	if c.handler == nil {
		c.handler = c.factory()
	}
	return c.handler
}

// Worker returns the Worker currently driving this connection's I/O.
func (c *Connection) Worker() WorkerHandle { return c.worker }

// touchActivity records the current time as the connection's last I/O
// activity, the value idle-timeout scheduling compares against.
func (c *Connection) touchActivity() {
	c.lastActiveNanos.Swap(time.Now().UnixNano())
}

// LastActive returns the time of the connection's most recent
// successful socket read or write, or of its last Reset if there has
// been none since. Calls that end in EAGAIN or an error do not update it.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActiveNanos.Get())
}

// RefillReadBuffer issues one non-blocking read into rbuf. It returns
// true when at least one new byte became readable. It returns false on
// EOF, a hard error, or EAGAIN; only the first two set disconnected —
// EAGAIN with nothing buffered is a normal yield point, not an error.
func (c *Connection) RefillReadBuffer() bool {
	if c.rbuf.Free() == 0 {
		c.rbuf.Compact()
	}
	if c.rbuf.Free() == 0 {
		// Caller asked to refill a buffer whose unread bytes fill it
		// even after compaction: a handler that never consumes bytes
		// for a full buffer's worth of a single packet. Nothing more
		// we can do here.
		return false
	}

	n, err := unix.Read(c.fd, c.rbuf.Tail())
	switch {
	case n == 0 && err == nil:
		c.disconnected.Set(true)
		return false
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return false
	case err != nil:
		c.disconnected.Set(true)
		return false
	}

	c.touchActivity()
	c.rbuf.Grow(n)
	return true
}

// ReadBytes ensures n bytes are available in rbuf, refilling across as
// many reads as needed, then copies them into out and advances the
// cursor. It fails iff a refill attempt fails before n bytes have
// accumulated, which callers interpret as "block for more input".
func (c *Connection) ReadBytes(out []byte, n int) bool {
	if n > len(out) {
		panic(fmt.Sprintf("conn: ReadBytes n=%d exceeds len(out)=%d", n, len(out)))
	}

	for c.rbuf.Remaining() < n {
		if !c.RefillReadBuffer() {
			return false
		}
	}

	copy(out, c.rbuf.Unread()[:n])
	c.rbuf.Consume(n)
	return true
}

// BufferWriteBytes appends one wire packet — a one-byte type tag, a
// four-byte big-endian length covering itself plus the payload, then
// the payload — to wbuf. If the packet does not fit in the remaining
// capacity, wbuf is flushed first; if it still would not fit (a
// payload close to SOCKET_BUFFER_SIZE), the payload is written in
// successive chunks, each with its own header, so arbitrarily large
// responses never require wbuf to grow past its fixed capacity.
func (c *Connection) BufferWriteBytes(payload []byte, packetType byte) bool {
	total := protocol.FrameHeaderSize + len(payload)
	if total <= c.wbuf.Capacity() {
		if c.wbuf.Free() < total {
			if !c.flushLocked() {
				return false
			}
			c.wbuf.Compact()
		}
		if c.wbuf.Free() < total {
			return false
		}
		c.appendFrame(payload, packetType)
		return true
	}

	return c.bufferChunked(payload, packetType)
}

// bufferChunked splits a payload too large for one frame across
// several packets of the same type, each independently framed, so the
// bytes on the wire stay contiguous and correctly delimited even
// though they never all sit in wbuf at once.
func (c *Connection) bufferChunked(payload []byte, packetType byte) bool {
	maxPayload := c.wbuf.Capacity() - protocol.FrameHeaderSize
	if maxPayload <= 0 {
		return false
	}

	for len(payload) > 0 {
		n := maxPayload
		if n > len(payload) {
			n = len(payload)
		}
		chunk := payload[:n]
		payload = payload[n:]

		if c.wbuf.Free() < protocol.FrameHeaderSize+len(chunk) {
			if !c.flushLocked() {
				return false
			}
			c.wbuf.Compact()
		}
		c.appendFrame(chunk, packetType)
	}
	return true
}

// appendFrame writes the header via a pooled scratch buffer (borrowed
// from gnet's byte-buffer pool, same as the rest of the response path)
// so framing never allocates on the hot path.
func (c *Connection) appendFrame(payload []byte, packetType byte) {
	hdr := bytebuffer.Get()
	defer bytebuffer.Put(hdr)

	var lenBuf [protocol.LengthFieldSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(protocol.LengthFieldSize+len(payload)))

	_, _ = hdr.Write([]byte{packetType})
	_, _ = hdr.Write(lenBuf[:])

	c.wbuf.Append(hdr.Bytes())
	c.wbuf.Append(payload)
}

// FlushWriteBuffer writes all buffered bytes to the socket, looping
// over partial writes. On EAGAIN it returns false without clearing
// what remains buffered, leaving the state machine to arm for write
// readiness and resume later. On a hard error it sets disconnected.
func (c *Connection) FlushWriteBuffer() bool {
	ok := c.flushLocked()
	if ok {
		c.wbuf.Reset()
	}
	return ok
}

// flushLocked drains as much of wbuf as the socket will currently
// accept. On EAGAIN it compacts the unwritten bytes down to offset zero
// so a later append can reuse the freed capacity. On success it leaves
// wbuf's cursor at filled; callers decide whether to Reset or Compact.
func (c *Connection) flushLocked() bool {
	for !c.wbuf.Empty() {
		n, err := unix.Write(c.fd, c.wbuf.Unread())
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			c.wbuf.Compact()
			c.lastFlushBlocked = true
			return false
		case err != nil:
			c.disconnected.Set(true)
			return false
		}
		c.touchActivity()
		c.wbuf.Consume(n)
	}
	c.lastFlushBlocked = false
	return true
}

// HasPendingWrite reports whether a previous flush left bytes
// buffered, the condition the state machine checks before deciding
// whether to attempt another flush up front.
func (c *Connection) HasPendingWrite() bool {
	return !c.wbuf.Empty()
}

// ArmEvents re-registers fd with the reactor for the given mask if it
// differs from what is currently armed, or registers it for the first
// time if this is a fresh or reused connection.
func (c *Connection) ArmEvents(events protocol.EventType) error {
	if events == c.eventFlags && c.registered {
		return nil
	}

	var err error
	if c.registered {
		err = c.worker.Reactor().Modify(c.fd, events)
	} else {
		err = c.worker.Reactor().Register(c.fd, events)
		c.registered = true
	}
	if err != nil {
		return err
	}
	c.eventFlags = events
	return nil
}

// CloseSocket is idempotent: it closes fd, drops the reactor
// registration and sets disconnected. It does not release the
// Connection itself — the registry keeps it for the next Reset.
func (c *Connection) CloseSocket() {
	if c.registered {
		_ = c.worker.Reactor().Remove(c.fd)
		c.registered = false
	}
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}
	c.disconnected.Set(true)
}

// Reset reinitializes the Connection for a fresh session on fd, which
// may be a brand-new descriptor or one the OS has just recycled. It
// clears both buffers, drops any previous protocol handler, clears the
// disconnect latch, and registers with the new owning worker.
func (c *Connection) Reset(fd int, peer string, flags protocol.EventType, w WorkerHandle) error {
	c.fd = fd
	c.peer = peer
	c.worker = w
	c.handler = nil
	c.registered = false
	c.eventFlags = protocol.EventNone
	c.lastFlushBlocked = false
	c.disconnected.Set(false)
	c.rbuf.Reset()
	c.wbuf.Reset()
	c.touchActivity()

	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("conn: set nonblock fd=%d: %w", fd, err)
	}
	if err := setTCPNoDelay(fd); err != nil {
		return fmt.Errorf("conn: set nodelay fd=%d: %w", fd, err)
	}

	return c.ArmEvents(flags)
}

func setTCPNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
