package clientagent

import (
	. "gatekeep/wire"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelAllocator_SequentialAlloc(t *testing.T) {
	a := NewChannelAllocator(100, 102)
	require.EqualValues(t, 100, a.Alloc())
	require.EqualValues(t, 101, a.Alloc())
	require.EqualValues(t, 102, a.Alloc())
}

func TestChannelAllocator_ExhaustionReturnsInvalid(t *testing.T) {
	a := NewChannelAllocator(100, 100)
	require.EqualValues(t, 100, a.Alloc())
	require.Equal(t, Channel_t(INVALID_CHANNEL), a.Alloc())
}

func TestChannelAllocator_FreedChannelIsOnlyReusedAfterCounterExhausted(t *testing.T) {
	a := NewChannelAllocator(100, 102)
	first := a.Alloc() // 100
	a.Alloc()           // 101
	a.Free(first)

	require.EqualValues(t, 102, a.Alloc(), "counter still has unused channels left, must not reuse yet")
	require.Equal(t, first, a.Alloc(), "counter now exhausted, free list is drained")
	require.Equal(t, Channel_t(INVALID_CHANNEL), a.Alloc())
}
