package testutil

import "github.com/tarodb/wire/reactor"

// FakeWorkerHandle satisfies conn.WorkerHandle with a FakeReactor, for
// tests that need a Connection without a real Worker goroutine.
type FakeWorkerHandle struct {
	React *FakeReactor
	IDVal int
}

// NewFakeWorkerHandle returns a handle backed by a fresh FakeReactor.
func NewFakeWorkerHandle(id int) *FakeWorkerHandle {
	return &FakeWorkerHandle{React: NewFakeReactor(), IDVal: id}
}

func (f *FakeWorkerHandle) Reactor() reactor.Reactor { return f.React }
func (f *FakeWorkerHandle) ID() int                  { return f.IDVal }
