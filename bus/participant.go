package bus

import (
	. "gatekeep/wire"
	"sync"
)

// Participant is anything that can receive datagrams routed by the bus:
// the client agent's per-session glue, in this repository, but the
// interface is the seam a future state-server or database participant
// would implement against.
type Participant interface {
	// HandleDatagram delivers a routed datagram. dgi is positioned just
	// past the recipient list, at the sender channel.
	HandleDatagram(Datagram, *DatagramIterator)
	Terminate(error)
	Name() string
}

// ParticipantBase implements the bus-facing bookkeeping (subscription,
// post-remove queuing, routing) that every participant needs, grounded
// on the teacher's MDParticipantBase. Embedders provide HandleDatagram
// and Terminate themselves and call Init once constructed.
type ParticipantBase struct {
	bus        *Local
	subscriber *Subscriber
	handler    Participant

	mu          sync.Mutex
	postRemoves map[Channel_t][]Datagram
	name        string
}

func (p *ParticipantBase) Init(b *Local, handler Participant, name string) {
	p.bus = b
	p.handler = handler
	p.name = name
	p.postRemoves = make(map[Channel_t][]Datagram)
	p.subscriber = &Subscriber{participant: handler}
	b.addParticipant(p)
}

func (p *ParticipantBase) Name() string { return p.name }

// RouteDatagram hands a datagram to the bus for asynchronous delivery to
// every subscriber of its recipient channels.
func (p *ParticipantBase) RouteDatagram(dg Datagram) {
	p.bus.route(dg, p.handler)
}

func (p *ParticipantBase) SubscribeChannel(ch Channel_t) {
	p.bus.channels.SubscribeChannel(p.subscriber, ch)
}

func (p *ParticipantBase) UnsubscribeChannel(ch Channel_t) {
	p.bus.channels.UnsubscribeChannel(p.subscriber, ch)
}

func (p *ParticipantBase) SubscribeRange(lo, hi Channel_t) {
	p.bus.channels.SubscribeRange(p.subscriber, lo, hi)
}

func (p *ParticipantBase) UnsubscribeRange(lo, hi Channel_t) {
	p.bus.channels.UnsubscribeRange(p.subscriber, lo, hi)
}

// AddPostRemove queues a datagram to be routed automatically at
// Cleanup, keyed by the channel whose teardown it cascades from so a
// later ClearPostRemoves(ch) can cancel it.
func (p *ParticipantBase) AddPostRemove(ch Channel_t, dg Datagram) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postRemoves[ch] = append(p.postRemoves[ch], dg)
}

func (p *ParticipantBase) ClearPostRemoves(ch Channel_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.postRemoves, ch)
}

func (p *ParticipantBase) postRemove() {
	p.mu.Lock()
	pending := p.postRemoves
	p.postRemoves = make(map[Channel_t][]Datagram)
	p.mu.Unlock()

	for _, dgs := range pending {
		for _, dg := range dgs {
			p.RouteDatagram(dg)
		}
	}
}

// Cleanup runs teardown: post-remove emission, full unsubscription, and
// removal from the bus's participant list. Safe to call once per
// participant lifetime.
func (p *ParticipantBase) Cleanup() {
	p.postRemove()
	p.bus.channels.UnsubscribeAll(p.subscriber)
	p.bus.removeParticipant(p)
}
