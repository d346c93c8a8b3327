package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	o := NewOptions()
	require.Equal(t, "tcp", o.Addr().Network)
	require.Equal(t, ":5433", o.Addr().Addr)
	require.False(t, o.Addr().ReusePort)
	require.Greater(t, o.NumWorkers(), 0)
	require.Equal(t, 10000, o.MaxConnections())
	require.Equal(t, 256, o.QueueSize())
	require.Equal(t, time.Duration(0), o.IdleTime())
	require.Equal(t, time.Millisecond, o.Tick())
	require.Equal(t, int64(1000), o.WheelSize())
	require.NotNil(t, o.HandlerFactory())
}

func TestOptionsOverrideDefaults(t *testing.T) {
	o := NewOptions(
		Network("tcp4"),
		Addr(":9000"),
		ReusePort(true),
		NumWorkers(4),
		MaxConnections(100),
		QueueSize(16),
		IdleTime(30*time.Second),
		WheelTick(5*time.Millisecond),
		WheelSize(64),
	)

	require.Equal(t, "tcp4", o.Addr().Network)
	require.Equal(t, ":9000", o.Addr().Addr)
	require.True(t, o.Addr().ReusePort)
	require.Equal(t, 4, o.NumWorkers())
	require.Equal(t, 100, o.MaxConnections())
	require.Equal(t, 16, o.QueueSize())
	require.Equal(t, 30*time.Second, o.IdleTime())
	require.Equal(t, 5*time.Millisecond, o.Tick())
	require.Equal(t, int64(64), o.WheelSize())
}

func TestNoopHandlerSignalsDone(t *testing.T) {
	o := NewOptions()
	h := o.HandlerFactory()()
	require.Equal(t, StatusDone, h.Process(nil))
}

func TestEventTypeHas(t *testing.T) {
	e := EventRead | EventErr
	require.True(t, e.Has(EventRead))
	require.True(t, e.Has(EventErr))
	require.False(t, e.Has(EventWrite))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "continue", StatusContinue.String())
	require.Equal(t, "need-read", StatusNeedRead.String())
	require.Equal(t, "done", StatusDone.String())
	require.Equal(t, "unknown", Status(99).String())
}
