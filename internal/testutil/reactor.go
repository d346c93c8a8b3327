package testutil

import (
	"github.com/tarodb/wire/protocol"
	"github.com/tarodb/wire/reactor"
)

// FakeReactor is a no-op reactor.Reactor for tests that exercise
// Connection/statemachine logic without a real epoll/kqueue instance.
// It records the last mask armed per fd so tests can assert on it.
type FakeReactor struct {
	Armed map[int]protocol.EventType
}

// NewFakeReactor returns a ready-to-use FakeReactor.
func NewFakeReactor() *FakeReactor {
	return &FakeReactor{Armed: make(map[int]protocol.EventType)}
}

func (f *FakeReactor) Register(fd int, events protocol.EventType) error {
	f.Armed[fd] = events
	return nil
}

func (f *FakeReactor) Modify(fd int, events protocol.EventType) error {
	f.Armed[fd] = events
	return nil
}

func (f *FakeReactor) Remove(fd int) error {
	delete(f.Armed, fd)
	return nil
}

func (f *FakeReactor) Wait(timeoutMs int, cb reactor.Callback) error {
	return nil
}

func (f *FakeReactor) Close() error { return nil }
