package worker

import (
	"time"

	"github.com/tarodb/wire/conn"
)

// scheduleIdleTimeout arms a one-shot timer on the shared timing wheel
// that closes c once it has gone idleTime without I/O activity. The
// timer fires on the wheel's own goroutine, so the actual close is
// deferred onto the worker's loop via RunInLoop — the only way to
// touch a Connection's buffers safely from outside its owning worker.
func scheduleIdleTimeout(w *Worker, c *conn.Connection) {
	fd := c.Fd()

	var check func()
	check = func() {
		w.RunInLoop(func() {
			if c.Disconnected() || c.Fd() != fd {
				// Already closed, or the fd slot was recycled for a
				// different session before this timer fired.
				return
			}

			idleFor := time.Since(c.LastActive())
			if idleFor >= w.idleTime {
				c.CloseSocket()
				delete(w.active, fd)
				w.reg.Remove(w.id, fd)
				w.liveConns.Add(-1)
				return
			}
			w.wheel.AfterFunc(w.idleTime-idleFor, check)
		})
	}

	w.wheel.AfterFunc(w.idleTime, check)
}
