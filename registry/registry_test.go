package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tarodb/wire/internal/testutil"
	"github.com/tarodb/wire/protocol"
)

func TestRegistryShardsByWorkerIdxModulo(t *testing.T) {
	r := New(4)
	require.Same(t, r.shardFor(0), r.shardFor(4))
	require.NotSame(t, r.shardFor(1), r.shardFor(2))
}

func TestRegistryGetMissingReturnsNil(t *testing.T) {
	r := New(2)
	require.Nil(t, r.Get(0, 42))
}

func TestRegistryCreateOrResetReusesSlot(t *testing.T) {
	cfd, sfd, cleanup := testutil.TCPFdPair(t)
	defer cleanup()
	_ = sfd

	r := New(1)
	w := testutil.NewFakeWorkerHandle(0)

	c1, err := r.CreateOrReset(0, cfd, "127.0.0.1:1000", protocol.EventRead, w, func() protocol.Handler { return nil })
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	c2, err := r.CreateOrReset(0, cfd, "127.0.0.1:2000", protocol.EventRead, w, func() protocol.Handler { return nil })
	require.NoError(t, err)

	require.Same(t, c1, c2)
	require.Equal(t, "127.0.0.1:2000", c2.PeerAddr())
	require.Equal(t, 1, r.Len())
}

// TestRegistryDifferentWorkersDoNotShareAShard guards the bug the
// sharding policy exists to prevent: two fds dispatched to two
// different workers must land in two different shards even when the
// fd numbers themselves collide modulo the shard count, since the
// Acceptor's round-robin dispatch has no arithmetic relationship to
// fd values.
func TestRegistryDifferentWorkersDoNotShareAShard(t *testing.T) {
	r := New(2)
	w0 := testutil.NewFakeWorkerHandle(0)
	w1 := testutil.NewFakeWorkerHandle(1)

	// Same fd number, two different owning workers: this can legitimately
	// happen across shards since fds are only unique per-process, not
	// per-worker.
	_, fd, cleanup := testutil.TCPFdPair(t)
	defer cleanup()

	c0, err := r.CreateOrReset(0, fd, "peer-a", protocol.EventRead, w0, func() protocol.Handler { return nil })
	require.NoError(t, err)
	c1, err := r.CreateOrReset(1, fd, "peer-b", protocol.EventRead, w1, func() protocol.Handler { return nil })
	require.NoError(t, err)

	require.NotSame(t, c0, c1)
	require.Same(t, c0, r.Get(0, fd))
	require.Same(t, c1, r.Get(1, fd))
	require.Equal(t, 2, r.Len())
}

// TestRegistryRemoveEvictsStaleSlotAcrossWorkers guards the leak that
// worker-index sharding would otherwise reintroduce: once a worker
// closes its connection and removes the slot, a later dispatch of the
// same fd number to a *different* worker must not find (and reuse) the
// old, already-closed Connection living in the previous owner's shard.
func TestRegistryRemoveEvictsStaleSlotAcrossWorkers(t *testing.T) {
	r := New(2)
	w0 := testutil.NewFakeWorkerHandle(0)
	w1 := testutil.NewFakeWorkerHandle(1)

	_, fd, cleanup := testutil.TCPFdPair(t)
	defer cleanup()

	c0, err := r.CreateOrReset(0, fd, "peer-a", protocol.EventRead, w0, func() protocol.Handler { return nil })
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	r.Remove(0, fd)
	require.Equal(t, 0, r.Len())
	require.Nil(t, r.Get(0, fd))

	c1, err := r.CreateOrReset(1, fd, "peer-b", protocol.EventRead, w1, func() protocol.Handler { return nil })
	require.NoError(t, err)
	require.NotSame(t, c0, c1)
	require.Equal(t, 1, r.Len())
}
