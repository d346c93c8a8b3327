// Package server wires the Acceptor, the worker pool, the shared
// connection registry and the shared idle-timeout timing wheel into
// one runnable unit, the way the teacher's tcpserver package wires its
// own mainLoop/subLoops/tcpAccept trio.
package server

import (
	"fmt"
	"time"

	"github.com/Allenxuxu/gev/log"
	atomicx "github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/RussellLuo/timingwheel"
	"github.com/tarodb/wire/acceptor"
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/registry"
	"github.com/tarodb/wire/worker"
)

// Server owns the full set of goroutines a running instance needs: one
// Acceptor and a fixed pool of Workers, sharing one Registry and one
// TimingWheel.
type Server struct {
	options *protocol.Options

	reg    *registry.Registry
	wheel  *timingwheel.TimingWheel
	accept *acceptor.Acceptor
	pool   []*worker.Worker

	done chan struct{}
}

// New assembles a Server from opts but does not start it; call Start
// once construction succeeds.
func New(opts ...protocol.Option) (*Server, error) {
	options := protocol.NewOptions(opts...)

	wheel := timingwheel.NewTimingWheel(options.Tick(), options.WheelSize())
	reg := registry.New(options.NumWorkers())

	// liveConns is shared between every Worker and the Acceptor: a
	// Worker decrements it the moment it closes a connection, so the
	// Acceptor's max_connections check reflects capacity actually
	// freed up, not just capacity ever handed out.
	liveConns := new(atomicx.Int64)

	pool := make([]*worker.Worker, options.NumWorkers())
	for i := range pool {
		w, err := worker.New(i, reg, options.HandlerFactory(), options.QueueSize(), options.IdleTime(), wheel, liveConns)
		if err != nil {
			for j := 0; j < i; j++ {
				pool[j].Stop()
			}
			return nil, fmt.Errorf("server: create worker %d: %w", i, err)
		}
		pool[i] = w
	}

	accept, err := acceptor.New(options.Addr(), acceptorTargets(pool), options.MaxConnections(), liveConns)
	if err != nil {
		for _, w := range pool {
			w.Stop()
		}
		return nil, fmt.Errorf("server: create acceptor: %w", err)
	}

	return &Server{
		options: options,
		reg:     reg,
		wheel:   wheel,
		accept:  accept,
		pool:    pool,
	}, nil
}

// Start launches the timing wheel, every worker's reactor loop and the
// acceptor's reactor loop, then returns; all of it runs in background
// goroutines until Stop is called.
func (s *Server) Start() {
	s.wheel.Start()

	for _, w := range s.pool {
		go w.Run()
	}
	go s.accept.Run()

	log.Infof("wire: listening on %s/%s with %d workers", s.options.Addr().Network, s.options.Addr().Addr, len(s.pool))
}

// Stop closes the listening socket, drains and stops every worker, and
// stops the timing wheel. It blocks until all goroutines have
// returned.
func (s *Server) Stop() {
	if err := s.accept.Stop(); err != nil {
		log.Errorf("wire: stop acceptor: %v", err)
	}
	for _, w := range s.pool {
		w.Stop()
	}
	s.wheel.Stop()
}

// RunAfter schedules a one-shot task on the server's shared timing
// wheel, the same wheel idle-timeout bookkeeping uses.
func (s *Server) RunAfter(d time.Duration, f func()) *timingwheel.Timer {
	return s.wheel.AfterFunc(d, f)
}

// RunEvery schedules a recurring task on the server's shared timing
// wheel.
func (s *Server) RunEvery(d time.Duration, f func()) *timingwheel.Timer {
	return s.wheel.ScheduleFunc(&everyScheduler{interval: d}, f)
}

// Registry exposes the shared connection table, mainly so tests and
// diagnostics can report live connection counts.
func (s *Server) Registry() *registry.Registry { return s.reg }

// acceptorTargets adapts the concrete worker pool to the acceptor's
// minimal Target interface, since *worker.Worker already satisfies it
// structurally via Enqueue.
func acceptorTargets(pool []*worker.Worker) []acceptor.Target {
	targets := make([]acceptor.Target, len(pool))
	for i, w := range pool {
		targets[i] = w
	}
	return targets
}

// everyScheduler implements timingwheel.Scheduler for a fixed-interval
// recurring task, the same shape as the teacher's protocol.EveryScheduler.
type everyScheduler struct {
	interval time.Duration
}

func (s *everyScheduler) Next(prev time.Time) time.Time {
	if prev.IsZero() {
		return time.Now().Add(s.interval)
	}
	return prev.Add(s.interval)
}
