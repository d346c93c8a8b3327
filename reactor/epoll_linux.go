//go:build linux

package reactor

import (
	"fmt"

	"github.com/tarodb/wire/protocol"
	"golang.org/x/sys/unix"
)

// epollReactor multiplexes readiness via Linux epoll, level-triggered.
// Level-triggered matches the state machine's own re-arm discipline: it
// decides per-call what to re-register for, instead of relying on edge
// semantics to avoid repeat notifications.
type epollReactor struct {
	fd int
}

// New creates the platform Reactor. Every Worker, and the Acceptor,
// calls this once during construction and never shares the result.
func New() (Reactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollReactor{fd: fd}, nil
}

func toEpollEvents(events protocol.EventType) uint32 {
	var e uint32
	if events.Has(protocol.EventRead) {
		e |= unix.EPOLLIN
	}
	if events.Has(protocol.EventWrite) {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) protocol.EventType {
	var events protocol.EventType
	if e&(unix.EPOLLHUP) != 0 && e&unix.EPOLLIN == 0 {
		events |= protocol.EventClose
	}
	if e&unix.EPOLLERR != 0 {
		events |= protocol.EventErr
	}
	if e&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		events |= protocol.EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= protocol.EventWrite
	}
	return events
}

func (r *epollReactor) Register(fd int, events protocol.EventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Modify(fd int, events protocol.EventType) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Remove(fd int) error {
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("reactor: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Wait(timeoutMs int, cb Callback) error {
	var events [maxWaitEvents]unix.EpollEvent

	n, err := unix.EpollWait(r.fd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		cb(int(events[i].Fd), fromEpollEvents(events[i].Events))
	}
	return nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.fd)
}
