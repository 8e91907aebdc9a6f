package clientagent

import (
	"fmt"
	"sync"

	"gatekeep/bus"
	"gatekeep/dclass"
	gnet "gatekeep/net"
	. "gatekeep/wire"

	"github.com/apex/log"
)

// sessionState is the ClientSession's position in the NEW -> ANONYMOUS
// -> ESTABLISHED -> CLOSED lifecycle.
type sessionState int

const (
	StateNew sessionState = iota
	StateAnonymous
	StateEstablished
	StateClosed
)

func (s sessionState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAnonymous:
		return "ANONYMOUS"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DistributedObject is the client's local knowledge of one server
// object: just enough to route and authorize further traffic about it.
type DistributedObject struct {
	ID     Doid_t
	Parent Doid_t
	Zone   Zone_t
	Class  *dclass.Class
}

// Session is the per-connection state machine: protocol translation,
// projection bookkeeping, and interest lifecycle. It implements both
// gnet.DatagramHandler (the client socket side) and bus.Participant (the
// MD bus side, via the embedded ParticipantBase) because both contracts
// converge on the same HandleDatagram/Terminate shape.
type Session struct {
	bus.ParticipantBase

	agent  *Agent
	client *gnet.Client

	mu    sync.Mutex
	state sessionState

	allocatedChannel    Channel_t
	identityChannel     Channel_t
	identityIsAllocated bool

	owned   map[Doid_t]bool
	seen    map[Doid_t]bool
	objects map[Doid_t]*DistributedObject

	interests   map[uint16]*Interest
	pendingOps  map[uint32]*InterestOperation
	nextContext uint32

	log *log.Entry
}

// newSession constructs a Session and wires it to the given transport.
// Construction holds s.mu for its whole duration: gnet.NewClient spawns
// a read goroutine that can call back into s.ReceiveDatagram the moment
// bytes arrive, and holding the lock here means that goroutine simply
// blocks until the session is fully built instead of racing with it.
func newSession(a *Agent, channel Channel_t, tr gnet.Transport) *Session {
	s := &Session{
		agent:               a,
		state:               StateNew,
		allocatedChannel:    channel,
		identityChannel:     channel,
		identityIsAllocated: true,
		owned:               make(map[Doid_t]bool),
		seen:                make(map[Doid_t]bool),
		objects:             make(map[Doid_t]*DistributedObject),
		interests:           make(map[uint16]*Interest),
		pendingOps:          make(map[uint32]*InterestOperation),
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = log.WithFields(log.Fields{
		"name":    "ClientSession",
		"channel": fmt.Sprintf("%d", channel),
	})
	s.ParticipantBase.Init(a.bus, s, fmt.Sprintf("Client:%d", channel))
	s.SubscribeChannel(channel)
	s.client = gnet.NewClient(tr, s, a.timeout)
	return s
}

// ReceiveDatagram handles one full client-framed message. Exactly one
// message is processed per call; trailing bytes or a short read are
// both fatal to the session, matching the "process to completion, then
// check for leftovers" rule.
func (s *Session) ReceiveDatagram(dg Datagram) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(DatagramIteratorEOF); ok {
				s.disconnectLocked(DisconnectTruncatedDatagram, "truncated datagram", true)
				return
			}
			panic(r)
		}
	}()

	dgi := NewDatagramIterator(&dg)
	msgtype := dgi.ReadUint16()
	s.dispatchClient(msgtype, dgi)

	if s.state != StateClosed && Dgsize_t(dg.Len())-dgi.Tell() > 0 {
		s.disconnectLocked(DisconnectOversizedDatagram, "trailing bytes after message", true)
	}
}

func (s *Session) dispatchClient(msgtype uint16, dgi *DatagramIterator) {
	switch s.state {
	case StateNew:
		if msgtype != ClientHello {
			s.disconnectLocked(DisconnectNoHello, "expected CLIENT_HELLO", true)
			return
		}
		s.handleHello(dgi)
	case StateAnonymous:
		if msgtype != ClientObjectSetField {
			s.disconnectLocked(DisconnectInvalidMsgtype, "unexpected message while anonymous", true)
			return
		}
		s.handleSetField(dgi)
	case StateEstablished:
		switch msgtype {
		case ClientObjectSetField:
			s.handleSetField(dgi)
		case ClientObjectLocation:
			s.handleObjectLocation(dgi)
		case ClientAddInterest:
			s.handleAddInterest(dgi, false)
		case ClientAddInterestMultiple:
			s.handleAddInterest(dgi, true)
		case ClientRemoveInterest:
			s.handleRemoveInterest(dgi)
		default:
			s.disconnectLocked(DisconnectInvalidMsgtype, "unhandled message type", true)
		}
	}
}

func (s *Session) handleHello(dgi *DatagramIterator) {
	hash := dgi.ReadUint32()
	version := dgi.ReadString()

	if hash != s.agent.expectedHash {
		s.disconnectLocked(DisconnectBadDCHash, "dc hash mismatch", false)
		return
	}
	if version != s.agent.expectedVersion {
		s.disconnectLocked(DisconnectBadVersion, "version mismatch", false)
		return
	}

	resp := NewDatagram()
	resp.AddUint16(ClientHelloResp)
	s.client.SendDatagram(resp)
	s.state = StateAnonymous
}

func (s *Session) resolveClass(doID Doid_t) (*dclass.Class, bool, bool) {
	if u, ok := s.agent.uberdogs.Lookup(doID); ok {
		return u.Class, u.Anonymous, true
	}
	if obj, ok := s.objects[doID]; ok {
		return obj.Class, false, true
	}
	return nil, false, false
}

func (s *Session) handleSetField(dgi *DatagramIterator) {
	doID := dgi.ReadDoid()
	fieldID := dgi.ReadUint16()

	class, anonymousAllowed, ok := s.resolveClass(doID)
	if !ok {
		s.disconnectLocked(DisconnectMissingObject, "set_field on unknown object", true)
		return
	}
	if s.state != StateEstablished && !anonymousAllowed {
		s.disconnectLocked(DisconnectAnonymousViolation, "set_field pre-auth on non-anonymous object", true)
		return
	}

	field, ok := class.FieldByIndex(fieldID)
	if !ok {
		s.disconnectLocked(DisconnectForbiddenField, "unknown field index", true)
		return
	}
	if !(field.ClSend || (field.OwnSend && s.owned[doID])) {
		s.disconnectLocked(DisconnectForbiddenField, "field not sendable by this client", true)
		return
	}

	payload := dgi.UnpackField(field)

	md := NewDatagram()
	md.AddServerHeader(Channel_t(doID), s.identityChannel, StateServerObjectSetField)
	md.AddDoid(doID)
	md.AddUint16(fieldID)
	md.AddData(payload)

	s.routeDatagram(md, "set_field")
}

// routeDatagram enforces the MD wire envelope's MaxDatagramPayload
// ceiling before handing dg to the bus, per spec §7's "MD routing
// overflow" error: every outbound envelope a session emits on behalf of
// a client message goes through this one path, not just SET_FIELD.
// Returns false (and has already disconnected the client) if dg was
// too large to route.
func (s *Session) routeDatagram(dg Datagram, what string) bool {
	if dg.Len() > MaxDatagramPayload {
		s.disconnectLocked(DisconnectOversizedDatagram, what+" envelope too large", true)
		return false
	}
	s.RouteDatagram(dg)
	return true
}

func (s *Session) handleObjectLocation(dgi *DatagramIterator) {
	doID := dgi.ReadDoid()
	parent := dgi.ReadDoid()
	zone := dgi.ReadZone()

	if _, ok := s.objects[doID]; !ok {
		s.disconnectLocked(DisconnectMissingObject, "object_location on unknown object", true)
		return
	}
	if !s.owned[doID] {
		s.disconnectLocked(DisconnectForbiddenRelocate, "relocate of non-owned object", true)
		return
	}

	md := NewDatagram()
	md.AddServerHeader(Channel_t(doID), s.identityChannel, StateServerObjectSetLocation)
	md.AddDoid(doID)
	md.AddDoid(parent)
	md.AddZone(zone)
	s.routeDatagram(md, "object_location")
}

func (s *Session) handleAddInterest(dgi *DatagramIterator, multiple bool) {
	context := dgi.ReadUint32()
	interestID := dgi.ReadUint16()
	parent := dgi.ReadDoid()

	var zones []Zone_t
	if multiple {
		count := dgi.ReadUint16()
		zones = make([]Zone_t, count)
		for i := range zones {
			zones[i] = dgi.ReadZone()
		}
	} else {
		zones = []Zone_t{dgi.ReadZone()}
	}

	s.addInterest(newInterest(interestID, parent, zones), context)
}

// addInterest implements the interest-open/alter algorithm of the
// interest lifecycle: compute genuinely-new zones, shrink any prior
// interest of the same id, store the new interest, and either respond
// immediately (nothing new to wait for) or kick off a GET_ZONES_OBJECTS
// round trip tracked by a pending InterestOperation.
func (s *Session) addInterest(interest *Interest, clientContext uint32) {
	newZones := make(map[Zone_t]bool)
	for z := range interest.Zones {
		if !covered(s.interests, interest.Parent, z) {
			newZones[z] = true
		}
	}

	if old, ok := s.interests[interest.ID]; ok {
		killed := make(map[Zone_t]bool)
		for z := range old.Zones {
			if !coveredElsewhere(s.interests, interest.ID, true, old.Parent, z) {
				if old.Parent != interest.Parent || !interest.Zones[z] {
					killed[z] = true
				}
			}
		}
		s.closeZones(old.Parent, killed)
	}

	s.interests[interest.ID] = interest

	for z := range newZones {
		s.SubscribeChannel(LocationAsChannel(interest.Parent, z))
	}

	if len(newZones) == 0 {
		resp := NewDatagram()
		resp.AddUint16(ClientDoneInterestResp)
		resp.AddUint32(clientContext)
		resp.AddUint16(interest.ID)
		s.client.SendDatagram(resp)
		return
	}

	requestContext := s.nextContext
	s.nextContext++

	op := newInterestOperation(interest.ID, clientContext, interest.Parent, newZones)
	s.pendingOps[requestContext] = op

	zoneList := make([]Zone_t, 0, len(newZones))
	for z := range newZones {
		zoneList = append(zoneList, z)
	}

	md := NewDatagram()
	md.AddServerHeader(ParentToChildren(interest.Parent), s.identityChannel, StateServerObjectGetZonesObjects)
	md.AddUint32(requestContext)
	md.AddDoid(interest.Parent)
	md.AddUint16(uint16(len(zoneList)))
	for _, z := range zoneList {
		md.AddZone(z)
	}
	if !s.routeDatagram(md, "get_zones_objects") {
		delete(s.pendingOps, requestContext)
	}
}

// checkOperationReady fires and removes requestContext's pending
// operation if it has become ready, replying to the client.
func (s *Session) checkOperationReady(requestContext uint32) {
	op, ok := s.pendingOps[requestContext]
	if !ok || !op.Ready() {
		return
	}
	resp := NewDatagram()
	resp.AddUint16(ClientDoneInterestResp)
	resp.AddUint32(op.ClientContext)
	resp.AddUint16(op.InterestID)
	s.client.SendDatagram(resp)
	delete(s.pendingOps, requestContext)
}

func (s *Session) handleRemoveInterest(dgi *DatagramIterator) {
	context := dgi.ReadUint32()
	interestID := dgi.ReadUint16()

	interest, ok := s.interests[interestID]
	if !ok {
		s.disconnectLocked(DisconnectGeneric, "remove_interest on unknown interest", true)
		return
	}

	killed := make(map[Zone_t]bool)
	for z := range interest.Zones {
		if !coveredElsewhere(s.interests, interestID, true, interest.Parent, z) {
			killed[z] = true
		}
	}
	s.closeZones(interest.Parent, killed)

	resp := NewDatagram()
	resp.AddUint16(ClientDoneInterestResp)
	resp.AddUint32(context)
	resp.AddUint16(interestID)
	s.client.SendDatagram(resp)

	delete(s.interests, interestID)
}

// closeZones drops every non-owned projected object at (parent, z) for
// z in killed, notifies the client they're leaving view, and unsubscribes
// the now-uncovered location channels.
func (s *Session) closeZones(parent Doid_t, killed map[Zone_t]bool) {
	for doID, obj := range s.objects {
		if obj.Parent != parent || !killed[obj.Zone] || s.owned[doID] {
			continue
		}
		s.emitLeaving(doID, false)
		delete(s.seen, doID)
		delete(s.objects, doID)
	}
	for z := range killed {
		s.UnsubscribeChannel(LocationAsChannel(parent, z))
	}
}

func (s *Session) emitLeaving(doID Doid_t, owner bool) {
	dg := NewDatagram()
	if owner {
		dg.AddUint16(ClientObjectLeavingOwner)
	} else {
		dg.AddUint16(ClientObjectLeaving)
	}
	dg.AddDoid(doID)
	s.client.SendDatagram(dg)
}

// disconnectLocked must be called with s.mu held. It sends CLIENT_EJECT
// if the socket is still writable, emits the matching event, and tears
// the session down.
func (s *Session) disconnectLocked(reason uint16, text string, security bool) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed

	eject := NewDatagram()
	eject.AddUint16(ClientEject)
	eject.AddUint16(reason)
	eject.AddString(text)
	if s.client != nil {
		s.client.SendDatagram(eject)
	}

	kind := "client-eject"
	if security {
		kind = "client-eject-security"
		s.log.Warnf("security: ejecting %s: %s", s.Name(), text)
	} else {
		s.log.Infof("ejecting %s: %s", s.Name(), text)
	}
	s.agent.events.Send(s.Name(), kind, fmt.Sprintf("%d", reason), text)

	s.teardown()
	if s.client != nil {
		go s.client.Close()
	}
}

// teardown releases every resource the session holds: post-remove
// emission and subscription release happen in ParticipantBase.Cleanup;
// the allocated channel returns to the agent's allocator.
func (s *Session) teardown() {
	s.Cleanup()
	s.agent.allocator.Free(s.allocatedChannel)
}

// Terminate is called by the client socket (I/O error or close) and
// satisfies gnet.DatagramHandler.
func (s *Session) Terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.log.Infof("client disconnected: %v", err)
	s.agent.events.Send(s.Name(), "client-disconnected")
	s.teardown()
}
