//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"fmt"

	"github.com/tarodb/wire/protocol"
	"golang.org/x/sys/unix"
)

// kqueueReactor multiplexes readiness via kqueue. Unlike epoll, kqueue
// tracks read and write readiness as separate filters, so Modify must
// diff against the previously armed mask to know which filters to add
// or delete; kqueueReactor keeps that mask per fd since the kernel
// does not report it back.
type kqueueReactor struct {
	fd     int
	armed  map[int]protocol.EventType
}

// New creates the platform Reactor.
func New() (Reactor, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("reactor: kqueue: %w", err)
	}
	return &kqueueReactor{fd: fd, armed: make(map[int]protocol.EventType)}, nil
}

func (r *kqueueReactor) changelist(old, new protocol.EventType, fd int) []unix.Kevent_t {
	var changes []unix.Kevent_t

	wantRead := new.Has(protocol.EventRead)
	hadRead := old.Has(protocol.EventRead)
	if wantRead && !hadRead {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
	} else if !wantRead && hadRead {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}

	wantWrite := new.Has(protocol.EventWrite)
	hadWrite := old.Has(protocol.EventWrite)
	if wantWrite && !hadWrite {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
	} else if !wantWrite && hadWrite {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}

	return changes
}

func (r *kqueueReactor) Register(fd int, events protocol.EventType) error {
	changes := r.changelist(protocol.EventNone, events, fd)
	if len(changes) > 0 {
		if _, err := unix.Kevent(r.fd, changes, nil, nil); err != nil {
			return fmt.Errorf("reactor: kevent register fd=%d: %w", fd, err)
		}
	}
	r.armed[fd] = events
	return nil
}

func (r *kqueueReactor) Modify(fd int, events protocol.EventType) error {
	old := r.armed[fd]
	changes := r.changelist(old, events, fd)
	if len(changes) > 0 {
		if _, err := unix.Kevent(r.fd, changes, nil, nil); err != nil {
			return fmt.Errorf("reactor: kevent modify fd=%d: %w", fd, err)
		}
	}
	r.armed[fd] = events
	return nil
}

func (r *kqueueReactor) Remove(fd int) error {
	old, ok := r.armed[fd]
	if !ok {
		return nil
	}
	changes := r.changelist(old, protocol.EventNone, fd)
	delete(r.armed, fd)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(r.fd, changes, nil, nil); err != nil {
		return fmt.Errorf("reactor: kevent remove fd=%d: %w", fd, err)
	}
	return nil
}

func (r *kqueueReactor) Wait(timeoutMs int, cb Callback) error {
	var events [maxWaitEvents]unix.Kevent_t

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(r.fd, nil, events[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("reactor: kevent wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		fd := int(ev.Ident)

		var rev protocol.EventType
		if ev.Flags&(unix.EV_ERROR|unix.EV_EOF) != 0 {
			rev |= protocol.EventErr
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			rev |= protocol.EventRead
		case unix.EVFILT_WRITE:
			rev |= protocol.EventWrite
		}
		cb(fd, rev)
	}
	return nil
}

func (r *kqueueReactor) Close() error {
	return unix.Close(r.fd)
}
