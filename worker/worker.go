// Package worker implements the I/O thread: one reactor loop, one
// wake pipe, and a lock-free hand-off queue of pending connection
// transfers from the Acceptor. Every Worker runs on its own goroutine
// for the life of the process; after a connection is handed off, all
// of its I/O and protocol processing stays on that one goroutine.
package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/Allenxuxu/gev/log"
	atomicx "github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/RussellLuo/timingwheel"
	"github.com/tarodb/wire/conn"
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/queue"
	"github.com/tarodb/wire/reactor"
	"github.com/tarodb/wire/registry"
	"github.com/tarodb/wire/statemachine"
	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds how long one Wait call blocks when there is
// nothing registered but the wake pipe, so a worker with zero live
// connections still notices Stop promptly.
const pollTimeoutMs = 1000

const wakeDrainBufSize = 64

// Worker is an I/O thread: owns a reactor, a wake pipe, and a bounded
// hand-off queue other goroutines push accepted fds onto.
type Worker struct {
	id int

	react reactor.Reactor

	wakeRead  int
	wakeWrite int

	handoff *queue.HandoffQueue
	reg     *registry.Registry
	factory protocol.HandlerFactory

	idleTime time.Duration
	wheel    *timingwheel.TimingWheel

	liveConns *atomicx.Int64

	running atomicx.Bool
	done    chan struct{}

	active map[int]*conn.Connection

	pendingMu sync.Mutex
	pending   []func()
}

// New creates Worker id, backed by reg (the shared, sharded connection
// table), wheel (the shared idle-timeout timing wheel; nil disables
// idle timeouts), and liveConns (the same counter the Acceptor checks
// against max_connections; nil gives the worker its own, for tests
// that don't care about that bookkeeping). It does not start the
// reactor loop — call Run in its own goroutine once construction
// succeeds.
func New(id int, reg *registry.Registry, factory protocol.HandlerFactory, queueSize int, idleTime time.Duration, wheel *timingwheel.TimingWheel, liveConns *atomicx.Int64) (*Worker, error) {
	react, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("worker[%d]: create reactor: %w", id, err)
	}

	fds, err := unixPipe2NonBlock()
	if err != nil {
		_ = react.Close()
		return nil, fmt.Errorf("worker[%d]: create wake pipe: %w", id, err)
	}

	if liveConns == nil {
		liveConns = new(atomicx.Int64)
	}

	w := &Worker{
		id:        id,
		react:     react,
		wakeRead:  fds[0],
		wakeWrite: fds[1],
		handoff:   queue.New(queueSize),
		reg:       reg,
		factory:   factory,
		idleTime:  idleTime,
		wheel:     wheel,
		liveConns: liveConns,
		active:    make(map[int]*conn.Connection),
	}

	if err := react.Register(w.wakeRead, protocol.EventRead); err != nil {
		_ = react.Close()
		return nil, fmt.Errorf("worker[%d]: register wake pipe: %w", id, err)
	}

	return w, nil
}

// ID is the worker's stable small integer; -1 is reserved for the
// Acceptor and never assigned to a real Worker.
func (w *Worker) ID() int { return w.id }

// Reactor gives Connection access to (re-)register its own fd. Part of
// conn.WorkerHandle.
func (w *Worker) Reactor() reactor.Reactor { return w.react }

// Enqueue pushes a hand-off record for the worker to pick up and wakes
// it. Together with RunInLoop it is one of the two methods on Worker
// safe to call from another goroutine in steady state; the Acceptor
// calls it.
func (w *Worker) Enqueue(item queue.Item) bool {
	if !w.handoff.Push(item) {
		return false
	}
	w.wake()
	return true
}

// RunInLoop schedules fn to run on the worker's own goroutine at the
// next wake-up, the mechanism idle-timeout callbacks use to close a
// connection without touching its buffers from the timing wheel's own
// goroutine.
func (w *Worker) RunInLoop(fn func()) {
	w.pendingMu.Lock()
	w.pending = append(w.pending, fn)
	w.pendingMu.Unlock()
	w.wake()
}

func (w *Worker) wake() {
	for {
		_, err := unix.Write(w.wakeWrite, []byte{1})
		if err == nil || err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// Run executes the reactor loop until Stop is called. It is meant to
// be launched as `go w.Run()` once per worker at server startup.
func (w *Worker) Run() {
	w.running.Set(true)
	w.done = make(chan struct{})
	defer close(w.done)

	for {
		if err := w.react.Wait(pollTimeoutMs, w.handleEvent); err != nil {
			log.Errorf("worker[%d]: reactor wait: %v", w.id, err)
			return
		}
		w.runPending()

		if !w.running.Get() && w.handoff.IsEmpty() {
			w.closeAll()
			return
		}
	}
}

func (w *Worker) handleEvent(fd int, events protocol.EventType) {
	if fd == w.wakeRead {
		w.drainWake()
		w.drainHandoff()
		return
	}

	c := w.reg.Get(w.id, fd)
	if c == nil || c.Worker() != w {
		return
	}
	statemachine.Run(c)
	if c.Disconnected() {
		if _, ok := w.active[fd]; ok {
			delete(w.active, fd)
			w.reg.Remove(w.id, fd)
			w.liveConns.Add(-1)
		}
	}
}

// drainWake empties the wake pipe itself; the byte values carry no
// meaning, only the pipe's readability does.
func (w *Worker) drainWake() {
	var buf [wakeDrainBufSize]byte
	for {
		_, err := unix.Read(w.wakeRead, buf[:])
		if err != nil {
			return
		}
	}
}

// drainHandoff pops every record currently queued and materializes a
// Connection for each, registering it with the reactor under the
// state-machine callback. A single wake byte may cover many enqueues,
// so this drains to empty rather than handling one record per wake.
func (w *Worker) drainHandoff() {
	for {
		item, ok := w.handoff.Pop()
		if !ok {
			return
		}

		flags := protocol.EventType(item.EventFlags)
		c, err := w.reg.CreateOrReset(item.WorkerIdx, item.Fd, item.Peer, flags, w, w.factory)
		if err != nil {
			_ = unix.Close(item.Fd)
			w.liveConns.Add(-1)
			continue
		}
		w.active[item.Fd] = c

		if w.idleTime > 0 && w.wheel != nil {
			scheduleIdleTimeout(w, c)
		}
	}
}

func (w *Worker) runPending() {
	w.pendingMu.Lock()
	fns := w.pending
	w.pending = nil
	w.pendingMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (w *Worker) closeAll() {
	for fd, c := range w.active {
		c.CloseSocket()
		delete(w.active, fd)
		w.reg.Remove(w.id, fd)
		w.liveConns.Add(-1)
	}
	_ = w.react.Remove(w.wakeRead)
	_ = unix.Close(w.wakeRead)
	_ = unix.Close(w.wakeWrite)
	_ = w.react.Close()
}

// Stop requests the worker's Run loop to drain and exit, then blocks
// until it has. In-flight connections are closed with disconnected
// set; no descriptor is leaked.
func (w *Worker) Stop() {
	wasRunning := w.running.Get()
	w.running.Set(false)
	w.wake()
	if wasRunning && w.done != nil {
		<-w.done
	}
}

func unixPipe2NonBlock() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, err
	}
	return fds, nil
}
