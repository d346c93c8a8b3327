package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendConsume(t *testing.T) {
	var b Buffer
	require.Equal(t, Size, b.Capacity())
	require.True(t, b.Empty())
	require.Equal(t, Size, b.Free())

	b.Append([]byte("hello"))
	require.Equal(t, 5, b.Remaining())
	require.Equal(t, "hello", string(b.Unread()))

	b.Consume(3)
	require.Equal(t, 2, b.Remaining())
	require.Equal(t, "lo", string(b.Unread()))
}

func TestBufferGrowViaTail(t *testing.T) {
	var b Buffer
	tail := b.Tail()
	n := copy(tail, []byte("world"))
	b.Grow(n)
	require.Equal(t, "world", string(b.Unread()))
}

func TestBufferCompactSlidesUnreadToZero(t *testing.T) {
	var b Buffer
	b.Append([]byte("abcdef"))
	b.Consume(4)
	require.Equal(t, "ef", string(b.Unread()))

	b.Compact()
	require.Equal(t, 0, b.cursor)
	require.Equal(t, 2, b.filled)
	require.Equal(t, "ef", string(b.Unread()))
}

func TestBufferCompactNoopWhenCursorZero(t *testing.T) {
	var b Buffer
	b.Append([]byte("abc"))
	b.Compact()
	require.Equal(t, "abc", string(b.Unread()))
}

func TestBufferResetClearsCursorAndFilled(t *testing.T) {
	var b Buffer
	b.Append([]byte("abc"))
	b.Consume(1)
	b.Reset()
	require.True(t, b.Empty())
	require.Equal(t, 0, b.Remaining())
	require.Equal(t, Size, b.Free())
}

func TestBufferAppendPanicsOnOverflow(t *testing.T) {
	var b Buffer
	require.Panics(t, func() {
		b.Append(make([]byte, Size+1))
	})
}

func TestBufferGrowPanicsOnOverflow(t *testing.T) {
	var b Buffer
	require.Panics(t, func() {
		b.Grow(Size + 1)
	})
}

func TestBufferConsumePanicsPastRemaining(t *testing.T) {
	var b Buffer
	b.Append([]byte("ab"))
	require.Panics(t, func() {
		b.Consume(3)
	})
}
