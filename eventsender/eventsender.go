// Package eventsender is the fire-and-forget operational event sink the
// client agent's session reports connects and ejects to (spec's "Event
// sender" external collaborator). It is grounded on the teacher's
// eventlogger.eventsender.go, adapted from Astron's structured
// server-type/message-type wire encoding to the simpler "list of
// strings" shape spec.md §6 calls for.
package eventsender

import (
	. "gatekeep/wire"
	"net"

	"github.com/apex/log"
)

var log_ = log.WithFields(log.Fields{
	"name": "EventSender",
})

// Sender emits a single operational event as an ordered list of
// strings; the agent always passes "Client:<allocated_channel>" first.
type Sender interface {
	Send(fields ...string)
}

// UDP is a fire-and-forget Sender dialed to a configured address. If
// dialed with an empty address (no socket open), Send is a silent no-op,
// matching the teacher's "not active, not sending" behavior.
type UDP struct {
	conn *net.UDPConn
}

// Dial opens the UDP socket used to emit events. An empty address
// yields a UDP value whose Send does nothing, the same as the teacher's
// disabled event sender.
func Dial(address string) (*UDP, error) {
	if address == "" {
		log_.Debug("Not enabled.")
		return &UDP{}, nil
	}

	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &UDP{conn: conn}, nil
}

func (u *UDP) Send(fields ...string) {
	if u.conn == nil {
		return
	}

	dg := NewDatagram()
	dg.AddUint16(uint16(len(fields)))
	for _, f := range fields {
		dg.AddString(f)
	}

	if _, err := u.conn.Write(dg.Bytes()); err != nil {
		log_.Errorf("error writing event datagram: %s", err.Error())
	}
}

// Null discards every event; used by tests and by roles that run
// without a configured event sender.
type Null struct{}

func (Null) Send(fields ...string) {}
