// Package buffer implements the fixed-capacity, non-reallocating byte
// buffer shared by a connection's read and write paths.
package buffer

import "fmt"

// Size is the build-time capacity of a Buffer, in bytes. It mirrors the
// SOCKET_BUFFER_SIZE compile-time constant from the original wire layer.
const Size = 8192

// Buffer is a fixed-size byte array with a read cursor and a filled
// length. It never reallocates: callers are responsible for flushing or
// compacting before appending past capacity.
//
//	0 <= cursor <= filled <= len(data)
type Buffer struct {
	data   [Size]byte
	cursor int
	filled int
}

// Reset returns cursor and filled to zero. Contents are left untouched;
// callers must not read past the new filled length.
func (b *Buffer) Reset() {
	b.cursor = 0
	b.filled = 0
}

// Remaining reports how many unread bytes are currently buffered.
func (b *Buffer) Remaining() int {
	return b.filled - b.cursor
}

// Free reports how much capacity is left for Append before a flush or
// compaction is required.
func (b *Buffer) Free() int {
	return len(b.data) - b.filled
}

// Capacity is the fixed size of the underlying array.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Unread returns the slice of bytes not yet consumed by Consume.
func (b *Buffer) Unread() []byte {
	return b.data[b.cursor:b.filled]
}

// Tail returns the writable region past filled, sized exactly to Free().
// Callers fill it directly (e.g. via a socket read) then call Grow.
func (b *Buffer) Tail() []byte {
	return b.data[b.filled:]
}

// Grow advances filled by n after the caller has written n bytes into
// the slice returned by Tail. It panics if n would overflow capacity;
// callers are expected to size reads against Free() first.
func (b *Buffer) Grow(n int) {
	if b.filled+n > len(b.data) {
		panic(fmt.Sprintf("buffer: grow %d overflows capacity %d (filled=%d)", n, len(b.data), b.filled))
	}
	b.filled += n
}

// Consume advances the cursor by n. It requires n <= Remaining().
func (b *Buffer) Consume(n int) {
	if n > b.Remaining() {
		panic(fmt.Sprintf("buffer: consume %d exceeds remaining %d", n, b.Remaining()))
	}
	b.cursor += n
}

// Append copies src into the buffer, growing filled by len(src). It
// requires filled+len(src) <= capacity; the state machine is expected to
// flush or compact first when that does not hold.
func (b *Buffer) Append(src []byte) {
	if b.filled+len(src) > len(b.data) {
		panic(fmt.Sprintf("buffer: append %d overflows capacity %d (filled=%d)", len(src), len(b.data), b.filled))
	}
	copy(b.data[b.filled:], src)
	b.filled += len(src)
}

// Compact slides any unread bytes down to offset zero, discarding
// already-consumed bytes. Used by the state machine before appending a
// packet that would not otherwise fit.
func (b *Buffer) Compact() {
	if b.cursor == 0 {
		return
	}
	n := copy(b.data[:], b.data[b.cursor:b.filled])
	b.cursor = 0
	b.filled = n
}

// Empty reports whether there is nothing left to read.
func (b *Buffer) Empty() bool {
	return b.cursor >= b.filled
}
