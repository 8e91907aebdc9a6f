// Package clientagent is the client agent itself: the per-connection
// state machine (Session), the resources every session shares
// (ChannelAllocator, UberdogTable), and the acceptor role (Agent) that
// binds a listen socket and wires accepted connections into sessions.
package clientagent

import (
	"fmt"
	gonet "net"
	"time"

	"gatekeep/bus"
	"gatekeep/dclass"
	"gatekeep/eventsender"
	gnet "gatekeep/net"
	. "gatekeep/wire"

	"github.com/apex/log"
)

// Agent is the client-facing role: it owns the shared channel allocator
// and uberdog table, accepts connections via a net.NetworkServer, and
// constructs one Session per connection.
type Agent struct {
	server *gnet.NetworkServer
	bus    *bus.Local

	allocator *ChannelAllocator
	uberdogs  *UberdogTable
	dc        dclass.Registry
	events    eventsender.Sender

	expectedHash    uint32
	expectedVersion string
	timeout         time.Duration

	log *log.Entry
}

// NewAgent constructs the client agent role. channelMin/Max configure
// the shared allocator; expectedHash/expectedVersion gate CLIENT_HELLO.
func NewAgent(b *bus.Local, dc dclass.Registry, events eventsender.Sender, channelMin, channelMax Channel_t, expectedHash uint32, expectedVersion string) *Agent {
	if events == nil {
		events = eventsender.Null{}
	}
	a := &Agent{
		bus:             b,
		allocator:       NewChannelAllocator(channelMin, channelMax),
		uberdogs:        NewUberdogTable(),
		dc:              dc,
		events:          events,
		expectedHash:    expectedHash,
		expectedVersion: expectedVersion,
		timeout:         10 * time.Second,
		log:             log.WithFields(log.Fields{"name": "ClientAgent"}),
	}
	a.server = &gnet.NetworkServer{Handler: a}
	return a
}

// AddUberdog registers a well-known object id, visible to every session
// from this point on. Intended to run once at startup before Start.
// Fails loudly instead of installing an uberdog with a nil Class: a
// session resolving SET_FIELD against that class would otherwise
// nil-pointer-panic the first time a client touched it.
func (a *Agent) AddUberdog(id Doid_t, className string, anonymous bool) error {
	class, ok := a.dc.ClassByName(className)
	if !ok {
		err := fmt.Errorf("uberdog %d: class %q is not registered", id, className)
		a.log.Error(err.Error())
		return err
	}
	a.uberdogs.Add(id, class, anonymous)
	return nil
}

// Start binds the listen socket and runs the accept loop until the
// process is signalled to stop. errChan receives a nil once bound, or
// the listen error if binding fails.
func (a *Agent) Start(bindAddr string, errChan chan error, useProxyProto bool) {
	a.server.Start(bindAddr, errChan, useProxyProto)
}

func (a *Agent) Shutdown() error {
	return a.server.Shutdown()
}

// HandleConnect satisfies gnet.Server. A channel is allocated before any
// session machinery is built; on exhaustion the connection is rejected
// with a raw CLIENT_EJECT frame and closed immediately, per the
// "constructor ejects on exhaustion" rule.
func (a *Agent) HandleConnect(conn gonet.Conn) {
	channel := a.allocator.Alloc()
	if channel == INVALID_CHANNEL {
		a.rejectCapacity(conn)
		return
	}

	tr := gnet.NewSocketTransport(conn, a.timeout, gnet.BUFF_SIZE)
	session := newSession(a, channel, tr)

	remote, local := "", ""
	if tcp, ok := conn.RemoteAddr().(*gonet.TCPAddr); ok {
		remote = tcp.String()
	}
	if tcp, ok := conn.LocalAddr().(*gonet.TCPAddr); ok {
		local = tcp.String()
	}
	a.events.Send(session.Name(), "client-connected", remote, local)
}

func (a *Agent) rejectCapacity(conn gonet.Conn) {
	defer conn.Close()

	payload := NewDatagram()
	payload.AddUint16(ClientEject)
	payload.AddUint16(DisconnectGeneric)
	payload.AddString("capacity reached")

	frame := NewDatagram()
	frame.AddUint16(uint16(payload.Len()))
	frame.Write(payload.Bytes())

	if _, err := conn.Write(frame.Bytes()); err != nil {
		a.log.Warnf("failed to notify rejected client: %v", err)
	}
	a.log.Warn("channel range exhausted, rejecting connection")
}
