// Package acceptor implements the Master thread: the single goroutine
// that owns the listening socket and round-robins accepted
// descriptors across the worker pool. It never touches a
// ConnectionRegistry or a Connection directly — only the fd number and
// the event flags it hands off.
package acceptor

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/Allenxuxu/gev/log"
	atomicx "github.com/Allenxuxu/toolkit/sync/atomic"
	reuseport "github.com/libp2p/go-reuseport"
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/queue"
	"github.com/tarodb/wire/reactor"
	"golang.org/x/sys/unix"
)

// dispatchRetries bounds how long DispatchConnection spins against a
// full hand-off queue before giving up and closing the fd outright;
// a persistently full queue means that worker is saturated, and
// spinning forever would starve the accept loop for every connection.
const dispatchRetries = 3

// Target is the subset of Worker the acceptor needs: enough to push a
// hand-off record and have the worker wake itself. Defined locally to
// avoid acceptor depending on the worker package's full surface.
type Target interface {
	Enqueue(item queue.Item) bool
}

// Acceptor hosts the listening socket and dispatches accepted
// connections to a fixed pool of workers by round robin.
type Acceptor struct {
	listener   net.Listener
	listenFile *os.File
	listenFd   int
	react      reactor.Reactor

	workers []Target

	maxConnections int
	liveConns      *atomicx.Int64

	nextWorker int

	running atomicx.Bool
	done    chan struct{}
}

// New binds and listens on addr, but does not start accepting; call
// Run in its own goroutine once the worker pool is ready to receive
// hand-offs. liveConns is shared with the worker pool so that a
// connection closed on its owning worker is visible here as freed
// capacity against maxConnections.
func New(addr protocol.Address, workers []Target, maxConnections int, liveConns *atomicx.Int64) (*Acceptor, error) {
	var ln net.Listener
	var err error

	if addr.ReusePort {
		ln, err = reuseport.Listen(addr.Network, addr.Addr)
	} else {
		ln, err = net.Listen(addr.Network, addr.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("acceptor: listen %s/%s: %w", addr.Network, addr.Addr, err)
	}

	listenFile, fd, err := listenerFd(ln)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("acceptor: extract listener fd: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = listenFile.Close()
		_ = ln.Close()
		return nil, fmt.Errorf("acceptor: set nonblock: %w", err)
	}

	react, err := reactor.New()
	if err != nil {
		_ = listenFile.Close()
		_ = ln.Close()
		return nil, fmt.Errorf("acceptor: create reactor: %w", err)
	}
	if err := react.Register(fd, protocol.EventRead); err != nil {
		_ = react.Close()
		_ = listenFile.Close()
		_ = ln.Close()
		return nil, fmt.Errorf("acceptor: register listener: %w", err)
	}

	if liveConns == nil {
		liveConns = new(atomicx.Int64)
	}

	return &Acceptor{
		listener:       ln,
		listenFile:     listenFile,
		listenFd:       fd,
		react:          react,
		workers:        workers,
		maxConnections: maxConnections,
		liveConns:      liveConns,
	}, nil
}

// Addr is the resolved listen address, useful in tests that bind to
// port 0 and need to learn the ephemeral port chosen.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

const acceptPollTimeoutMs = 1000

// Run drives the acceptor's own reactor loop, calling AcceptOnce every
// time the listening socket reports read readiness, until Stop closes
// the listener out from under it. It is meant to be launched as
// `go a.Run()` exactly once.
func (a *Acceptor) Run() {
	a.running.Set(true)
	a.done = make(chan struct{})
	defer close(a.done)

	for a.running.Get() {
		if err := a.react.Wait(acceptPollTimeoutMs, func(fd int, _ protocol.EventType) {
			if fd == a.listenFd {
				a.AcceptOnce()
			}
		}); err != nil {
			return
		}
	}
}

// AcceptOnce accepts and dispatches every connection currently
// pending, looping until accept(2) returns EAGAIN. It is exported
// separately from Run so tests can drive one accept burst
// deterministically without a background goroutine.
func (a *Acceptor) AcceptOnce() {
	for {
		nfd, sa, err := unix.Accept(a.listenFd)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				// EMFILE/ENFILE and friends: log and keep the
				// listener open, per the policy that accept errors
				// are never server-fatal.
				log.Errorf("acceptor: accept: %v", err)
			}
			return
		}

		if a.maxConnections > 0 && a.liveConns.Get() >= int64(a.maxConnections) {
			_ = unix.Close(nfd)
			continue
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			continue
		}
		if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			_ = unix.Close(nfd)
			continue
		}

		a.liveConns.Add(1)
		a.DispatchConnection(nfd, protocol.EventRead, sockAddrToString(sa))
	}
}

// DispatchConnection assigns fd to the next worker by round robin and
// pushes a hand-off record, retrying briefly against backpressure
// before giving up and closing fd. The counter increments even on a
// failed dispatch so one saturated worker cannot skew future rounds
// toward itself.
func (a *Acceptor) DispatchConnection(fd int, flags protocol.EventType, peer string) {
	idx := a.nextWorker % len(a.workers)
	a.nextWorker++

	w := a.workers[idx]
	item := queue.Item{Fd: fd, EventFlags: uint32(flags), Peer: peer, WorkerIdx: idx}

	for attempt := 0; attempt < dispatchRetries; attempt++ {
		if w.Enqueue(item) {
			return
		}
	}

	log.Errorf("acceptor: worker %d hand-off queue full, closing fd %d", idx, fd)
	_ = unix.Close(fd)
	a.liveConns.Add(-1)
}

// Stop closes the listening socket and waits for Run to return. It
// does not touch any accepted connection — those are owned by the
// workers they were dispatched to.
func (a *Acceptor) Stop() error {
	wasRunning := a.running.Get()
	a.running.Set(false)
	err := a.listener.Close()
	_ = a.listenFile.Close()
	_ = a.react.Close()
	if wasRunning && a.done != nil {
		<-a.done
	}
	return err
}

// sockAddrToString renders the unix.Sockaddr returned by unix.Accept as
// a host:port string, for peer-address bookkeeping on the Connection.
// An unrecognized sockaddr type (neither IPv4 nor IPv6) yields "".
func sockAddrToString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(sa.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(sa.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(sa.Port))
	default:
		return ""
	}
}

// listenerFd extracts the raw descriptor backing ln by duplicating it
// via (*net.TCPListener).File. The returned *os.File must be kept
// alive (and closed explicitly) for as long as the int fd is in use:
// letting it go out of scope lets the GC's finalizer call close(2) on
// it out from under the reactor.
func listenerFd(ln net.Listener) (*os.File, int, error) {
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, 0, fmt.Errorf("acceptor: listener is not *net.TCPListener (%T)", ln)
	}
	f, err := tcpLn.File()
	if err != nil {
		return nil, 0, err
	}
	return f, int(f.Fd()), nil
}
