// Package bus is an in-process stand-in for the Message Director: a
// reliable, ordered, multi-subscriber transport providing subscribe,
// unsubscribe and send over channel-addressed datagrams. The client
// agent treats the real MD as an external collaborator reachable only
// through this shape (see spec's PURPOSE & SCOPE); Local is the
// reference transport that makes the agent runnable end-to-end without
// a separate MD process, grounded on the teacher's messagedirector
// package but trimmed to a single process with no upstream federation.
package bus

import (
	. "gatekeep/wire"
	"sync"

	"github.com/apex/log"
)

var BusLog = log.WithFields(log.Fields{
	"name": "Bus",
})

// queueEntry pairs a routed datagram with the participant that sent it,
// so Send can skip delivering a message back to its own sender.
type queueEntry struct {
	dg     Datagram
	sender Participant
}

// Local is a single-process Message Director. The zero value is not
// usable; construct with New.
type Local struct {
	mu           sync.Mutex
	participants []*ParticipantBase
	queue        chan queueEntry
	channels     *ChannelMap
	stop         chan struct{}
}

// New starts a Local bus and its queue-draining goroutine.
func New() *Local {
	b := &Local{
		queue:    make(chan queueEntry, 4096),
		channels: NewChannelMap(),
		stop:     make(chan struct{}),
	}
	go b.queueLoop()
	return b
}

// Stop halts the queue-draining goroutine. Mainly for tests that spin up
// short-lived buses.
func (b *Local) Stop() {
	close(b.stop)
}

func (b *Local) queueLoop() {
	for {
		select {
		case entry := <-b.queue:
			b.deliver(entry)
		case <-b.stop:
			return
		}
	}
}

func (b *Local) deliver(entry queueEntry) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(DatagramIteratorEOF); ok {
				BusLog.Error("reached end of datagram while routing")
				return
			}
			panic(r)
		}
	}()

	dgi := NewDatagramIterator(&entry.dg)
	count := dgi.ReadUint8()
	recipients := make([]Channel_t, 0, count)
	for i := uint8(0); i < count; i++ {
		recipients = append(recipients, dgi.ReadChannel())
	}

	payload := dgi.Copy()
	for _, recv := range recipients {
		b.channels.Send(recv, &entry.dg, payload, entry.sender)
	}
}

// route enqueues a datagram for asynchronous delivery, called by every
// ParticipantBase.RouteDatagram.
func (b *Local) route(dg Datagram, sender Participant) {
	b.queue <- queueEntry{dg: dg, sender: sender}
}

func (b *Local) addParticipant(p *ParticipantBase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.participants = append(b.participants, p)
}

func (b *Local) removeParticipant(p *ParticipantBase) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, other := range b.participants {
		if other == p {
			b.participants = append(b.participants[:i], b.participants[i+1:]...)
			return
		}
	}
}
