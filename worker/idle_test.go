package worker

import (
	"testing"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/stretchr/testify/require"
	"github.com/tarodb/wire/internal/testutil"
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/queue"
	"github.com/tarodb/wire/registry"
)

func TestIdleTimeoutClosesQuietConnection(t *testing.T) {
	_, sfd, cleanup := testutil.TCPFdPair(t)
	defer cleanup()

	wheel := timingwheel.NewTimingWheel(time.Millisecond, 64)
	wheel.Start()
	defer wheel.Stop()

	reg := registry.New(1)
	w, err := New(0, reg, func() protocol.Handler { return &echoForeverHandler{} }, 8, 20*time.Millisecond, wheel, nil)
	require.NoError(t, err)
	go w.Run()
	defer w.Stop()

	require.True(t, w.Enqueue(queue.Item{Fd: sfd, EventFlags: uint32(protocol.EventRead), Peer: "peer", WorkerIdx: 0}))

	require.Eventually(t, func() bool {
		c := reg.Get(0, sfd)
		return c != nil && c.Disconnected()
	}, testutil.ShortTimeout, testutil.ShortTick)
}
