package testutil

import "time"

// ShortTimeout and ShortTick bound require.Eventually polls in tests
// that wait on non-blocking I/O to observe a state change (e.g. EOF
// detection) without sleeping a fixed duration.
const (
	ShortTimeout = 2 * time.Second
	ShortTick    = 10 * time.Millisecond
)
