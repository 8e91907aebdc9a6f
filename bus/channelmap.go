package bus

import (
	. "gatekeep/wire"
	"sync"
)

// Subscriber is the channel map's handle for one participant; kept
// distinct from Participant itself so a participant's identity survives
// across the channel and range subscription tables even while it is
// being unsubscribed from one of them.
type Subscriber struct {
	participant Participant
}

type rangeSub struct {
	lo, hi Channel_t
	sub    *Subscriber
}

// ChannelMap tracks which participants are subscribed to which channels
// and channel ranges, and fans a datagram out to every matching,
// distinct subscriber. This is a deliberately simple map-based
// adaptation of the teacher's interval-splitting RangeMap: the teacher's
// version optimizes for large clustered deployments with overlapping
// range subscriptions from many MDs, which this single-process bus never
// has — the client agent only ever subscribes individual channels and
// location-channel ranges are never used by it, so a linear scan over a
// small range list is the right tradeoff here.
type ChannelMap struct {
	mu       sync.RWMutex
	channels map[Channel_t][]*Subscriber
	ranges   []rangeSub
}

func NewChannelMap() *ChannelMap {
	return &ChannelMap{channels: make(map[Channel_t][]*Subscriber)}
}

func (c *ChannelMap) SubscribeChannel(sub *Subscriber, ch Channel_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.channels[ch] {
		if s == sub {
			return
		}
	}
	c.channels[ch] = append(c.channels[ch], sub)
}

func (c *ChannelMap) UnsubscribeChannel(sub *Subscriber, ch Channel_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.channels[ch]
	for i, s := range subs {
		if s == sub {
			c.channels[ch] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(c.channels[ch]) == 0 {
		delete(c.channels, ch)
	}
}

func (c *ChannelMap) SubscribeRange(sub *Subscriber, lo, hi Channel_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ranges = append(c.ranges, rangeSub{lo: lo, hi: hi, sub: sub})
}

func (c *ChannelMap) UnsubscribeRange(sub *Subscriber, lo, hi Channel_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.ranges {
		if r.sub == sub && r.lo == lo && r.hi == hi {
			c.ranges = append(c.ranges[:i], c.ranges[i+1:]...)
			return
		}
	}
}

func (c *ChannelMap) UnsubscribeAll(sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, subs := range c.channels {
		for i, s := range subs {
			if s == sub {
				c.channels[ch] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(c.channels[ch]) == 0 {
			delete(c.channels, ch)
		}
	}
	filtered := c.ranges[:0]
	for _, r := range c.ranges {
		if r.sub != sub {
			filtered = append(filtered, r)
		}
	}
	c.ranges = filtered
}

// Send delivers dg to every distinct subscriber of ch, skipping the
// sender's own subscription so a participant never echoes its own
// datagram back to itself.
func (c *ChannelMap) Send(ch Channel_t, dg *Datagram, dgi *DatagramIterator, sender Participant) {
	c.mu.RLock()
	matched := make(map[*Subscriber]bool)
	for _, sub := range c.channels[ch] {
		matched[sub] = true
	}
	for _, r := range c.ranges {
		if r.lo <= ch && ch <= r.hi {
			matched[r.sub] = true
		}
	}
	c.mu.RUnlock()

	for sub := range matched {
		if sender != nil && sub.participant == sender {
			continue
		}
		go sub.participant.HandleDatagram(*dg, dgi.Copy())
	}
}
