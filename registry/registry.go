// Package registry implements the process-wide table of Connections,
// indexed by file descriptor. When CreateOrReset finds a slot that
// still exists for fd in the given worker's shard, the Connection there
// is Reset in place rather than reallocated. Slots are not kept for the
// life of the process: Remove deletes one, and workers call it whenever
// they close a connection, so an fd number the OS hands back after a
// close gets a freshly allocated Connection.
package registry

import (
	"github.com/tarodb/wire/conn"
	"github.com/tarodb/wire/protocol"
)

// shard holds the fd->Connection slots for exactly one Worker. Shards
// are keyed by worker index, not by fd: the Acceptor's round-robin
// dispatch (acceptor.DispatchConnection) is what actually decides
// which Worker owns a given fd, and that decision has no arithmetic
// relationship to the fd's numeric value, so fd%N would not reliably
// land two fds owned by the same worker in the same shard.
type shard struct {
	slots map[int]*conn.Connection
}

// Registry is a table of Connections sharded by owning-worker index.
// Each shard is only ever touched by the one worker it belongs to, so
// no shard needs a lock; the sharding exists purely to let different
// workers mutate disjoint fd sets without false sharing on one big map.
type Registry struct {
	shards []shard
}

// New creates a Registry with one shard per worker in the pool. Pass
// the worker pool size so shard index == worker index lines up with
// the index every Get/CreateOrReset call below is given.
func New(numWorkers int) *Registry {
	if numWorkers < 1 {
		numWorkers = 1
	}
	r := &Registry{shards: make([]shard, numWorkers)}
	for i := range r.shards {
		r.shards[i].slots = make(map[int]*conn.Connection)
	}
	return r
}

func (r *Registry) shardFor(workerIdx int) *shard {
	return &r.shards[workerIdx%len(r.shards)]
}

// Get returns the Connection registered at fd within the shard owned
// by workerIdx, or nil if no slot exists yet for that descriptor.
// Callers must pass the index of the worker that actually owns fd —
// typically their own worker ID, since a worker only ever calls Get
// for fds its own reactor reported readiness on.
func (r *Registry) Get(workerIdx, fd int) *conn.Connection {
	return r.shardFor(workerIdx).slots[fd]
}

// CreateOrReset returns the Connection for fd in the shard owned by
// workerIdx, creating a fresh one if this is the first time fd has
// been seen, or resetting the existing slot in place if the OS has
// recycled the descriptor number. Either way the returned Connection
// is ready for a new session. workerIdx must be the index the
// Acceptor actually dispatched fd to (queue.Item.WorkerIdx), so the
// slot lands in the same shard every time this fd recurs.
func (r *Registry) CreateOrReset(workerIdx, fd int, peer string, flags protocol.EventType, w conn.WorkerHandle, factory protocol.HandlerFactory) (*conn.Connection, error) {
	s := r.shardFor(workerIdx)

	if existing, ok := s.slots[fd]; ok {
		if err := existing.Reset(fd, peer, flags, w); err != nil {
			return nil, err
		}
		return existing, nil
	}

	c, err := conn.New(fd, peer, flags, w, factory)
	if err != nil {
		return nil, err
	}
	s.slots[fd] = c
	return c, nil
}

// Remove deletes the slot for fd from the shard owned by workerIdx.
// Workers call this once a connection is fully closed: recycle-in-place
// only works correctly when the same fd recurs on the same worker, and
// round-robin dispatch gives no such guarantee, so a closed connection
// must be evicted rather than left for a CreateOrReset that may never
// arrive on this shard again.
func (r *Registry) Remove(workerIdx, fd int) {
	delete(r.shardFor(workerIdx).slots, fd)
}

// Len reports the total number of slots across all shards, including
// slots whose connection has since been closed but not yet reused.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		n += len(r.shards[i].slots)
	}
	return n
}
