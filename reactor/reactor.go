// Package reactor wraps the OS-specific readiness multiplexer (epoll on
// Linux, kqueue on the BSDs/Darwin) behind one small interface. Each
// Worker owns exactly one Reactor and drives it from a single
// goroutine; nothing in this package is safe for concurrent use across
// goroutines.
package reactor

import "github.com/tarodb/wire/protocol"

// Callback is invoked once per ready fd during Wait.
type Callback func(fd int, events protocol.EventType)

// Reactor multiplexes readiness across a set of registered file
// descriptors. The worker's wake-pipe read end is registered like any
// other fd; there is no separate wake primitive at this layer.
type Reactor interface {
	// Register arms fd for the given event mask. It must not already
	// be registered.
	Register(fd int, events protocol.EventType) error
	// Modify rearms an already-registered fd with a new event mask.
	Modify(fd int, events protocol.EventType) error
	// Remove disarms fd. It is a no-op if fd was never registered.
	Remove(fd int) error
	// Wait blocks up to timeoutMs (negative blocks indefinitely),
	// invoking cb once per ready fd.
	Wait(timeoutMs int, cb Callback) error
	// Close releases the underlying OS resources.
	Close() error
}

const maxWaitEvents = 256
