package clientagent

import (
	. "gatekeep/wire"
	"sync"
)

// ChannelAllocator hands out per-client identity channels from a
// configured [min, max] range, bumping a counter until it reaches max
// and only then draining the free list of previously-freed channels.
// Grounded on the teacher's ChannelTracker; unlike the teacher it is
// safe for concurrent use directly, since sessions run on their own
// goroutines in this module's translation of the spec's
// single-threaded-per-session model.
type ChannelAllocator struct {
	mu     sync.Mutex
	next   Channel_t
	max    Channel_t
	unused []Channel_t
}

func NewChannelAllocator(min, max Channel_t) *ChannelAllocator {
	return &ChannelAllocator{next: min, max: max}
}

// Alloc returns the next unused channel, or INVALID_CHANNEL if the
// range is exhausted and no freed channel is available. Callers must
// treat INVALID_CHANNEL as "capacity reached."
func (a *ChannelAllocator) Alloc() Channel_t {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next <= a.max {
		ch := a.next
		a.next++
		return ch
	}
	if len(a.unused) != 0 {
		ch := a.unused[0]
		a.unused = a.unused[1:]
		return ch
	}
	return INVALID_CHANNEL
}

// Free returns a channel to the pool for reuse.
func (a *ChannelAllocator) Free(ch Channel_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unused = append(a.unused, ch)
}
