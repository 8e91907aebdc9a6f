package clientagent

import (
	"fmt"

	"gatekeep/dclass"
	. "gatekeep/wire"
)

// HandleDatagram is the bus.Participant side of the session: it strips
// the envelope sender and msgtype the bus leaves on the iterator and
// dispatches to the matching CLIENTAGENT_* / STATESERVER_OBJECT_*
// handler. Per spec, these arrive with sender+msgtype "stripped by the
// codec" from the session's point of view; stripping them here, one
// layer above the bus's raw delivery, is that codec boundary.
func (s *Session) HandleDatagram(dg Datagram, dgi *DatagramIterator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(DatagramIteratorEOF); ok {
				s.log.Error("reached end of datagram while handling a bus message")
				return
			}
			panic(r)
		}
	}()

	sender := dgi.ReadChannel()
	msgtype := dgi.ReadUint16()

	switch msgtype {
	case ClientAgentEject:
		reason := dgi.ReadUint16()
		text := dgi.ReadString()
		s.disconnectLocked(reason, text, false)
	case ClientAgentDrop:
		s.state = StateClosed
		s.agent.events.Send(s.Name(), "client-eject", fmt.Sprintf("%d", DisconnectGeneric), "dropped by server")
		s.teardown()
		if s.client != nil {
			go s.client.Close()
		}
	case ClientAgentSetState:
		s.state = sessionState(dgi.ReadUint8())
	case ClientAgentSetClientID:
		s.handleSetClientID(dgi.ReadChannel())
	case ClientAgentSendDatagram:
		raw := dgi.ReadBlob()
		fwd := NewDatagram()
		fwd.Write(raw)
		s.client.SendDatagram(fwd)
	case ClientAgentOpenChannel:
		s.SubscribeChannel(dgi.ReadChannel())
	case ClientAgentCloseChannel:
		s.UnsubscribeChannel(dgi.ReadChannel())
	case ClientAgentAddPostRemove:
		ch := dgi.ReadChannel()
		pr := dgi.ReadDatagram()
		s.AddPostRemove(ch, *pr)
	case ClientAgentClearPostRemoves:
		s.ClearPostRemoves(dgi.ReadChannel())
	case StateServerObjectSetField:
		s.handleStateServerSetField(sender, dgi)
	case StateServerObjectDeleteRAM:
		s.handleDeleteRAM(dgi)
	case StateServerObjectEnterOwnerWithRequiredOther:
		s.handleEnterOwner(dgi)
	case StateServerObjectEnterLocationWithRequired:
		s.handleEnterLocation(dgi, false)
	case StateServerObjectEnterLocationWithRequiredOther:
		s.handleEnterLocation(dgi, true)
	case StateServerObjectGetZonesCountResp:
		s.handleGetZonesCountResp(dgi)
	case StateServerObjectChangingLocation:
		s.handleChangingLocation(dgi)
	default:
		s.log.Debugf("dropping unrecognized bus message type %d", msgtype)
	}
}

// handleSetClientID implements the SET_CLIENT_ID rebind rule: the first
// rebinding leaves the outgoing identity's subscription alone because it
// is still the same channel as the still-reserved allocated channel;
// every subsequent rebind unsubscribes the outgoing identity first. See
// the SET_CLIENT_ID decision in DESIGN.md.
func (s *Session) handleSetClientID(newChannel Channel_t) {
	if s.identityIsAllocated {
		s.identityIsAllocated = false
	} else {
		s.UnsubscribeChannel(s.identityChannel)
	}
	s.identityChannel = newChannel
	s.SubscribeChannel(newChannel)
}

func (s *Session) handleStateServerSetField(sender Channel_t, dgi *DatagramIterator) {
	doID := dgi.ReadDoid()
	if _, ok := s.objects[doID]; !ok {
		s.log.Debugf("dropping set_field for unknown object %d", doID)
		return
	}
	if sender == s.identityChannel {
		return
	}

	fieldID := dgi.ReadUint16()
	payload := dgi.ReadRemainder()

	dg := NewDatagram()
	dg.AddUint16(ClientObjectSetField)
	dg.AddDoid(doID)
	dg.AddUint16(fieldID)
	dg.AddData(payload)
	s.client.SendDatagram(dg)
}

func (s *Session) handleDeleteRAM(dgi *DatagramIterator) {
	doID := dgi.ReadDoid()
	if _, ok := s.seen[doID]; ok {
		s.emitLeaving(doID, false)
		delete(s.seen, doID)
	}
	if _, ok := s.owned[doID]; ok {
		s.emitLeaving(doID, true)
		delete(s.owned, doID)
	}
	delete(s.objects, doID)
}

func (s *Session) resolveEnteringClass(dcID uint16) *dclass.Class {
	class, ok := s.agent.dc.ClassByNumber(dcID)
	if !ok {
		return nil
	}
	return class
}

func (s *Session) handleEnterOwner(dgi *DatagramIterator) {
	doID := dgi.ReadDoid()
	parent := dgi.ReadDoid()
	zone := dgi.ReadZone()
	dcID := dgi.ReadUint16()
	payload := dgi.ReadRemainder()

	s.owned[doID] = true
	if _, ok := s.objects[doID]; !ok {
		s.objects[doID] = &DistributedObject{ID: doID, Parent: parent, Zone: zone, Class: s.resolveEnteringClass(dcID)}
	}

	dg := NewDatagram()
	dg.AddUint16(ClientEnterObjectRequiredOtherOwner)
	dg.AddDoid(doID)
	dg.AddDoid(parent)
	dg.AddZone(zone)
	dg.AddUint16(dcID)
	dg.AddData(payload)
	s.client.SendDatagram(dg)
}

func (s *Session) handleEnterLocation(dgi *DatagramIterator, other bool) {
	doID := dgi.ReadDoid()
	parent := dgi.ReadDoid()
	zone := dgi.ReadZone()
	dcID := dgi.ReadUint16()
	payload := dgi.ReadRemainder()

	if s.owned[doID] {
		return
	}
	if _, ok := s.seen[doID]; ok {
		return
	}

	s.objects[doID] = &DistributedObject{ID: doID, Parent: parent, Zone: zone, Class: s.resolveEnteringClass(dcID)}
	s.seen[doID] = true

	dg := NewDatagram()
	if other {
		dg.AddUint16(ClientEnterObjectRequiredOther)
	} else {
		dg.AddUint16(ClientEnterObjectRequired)
	}
	dg.AddDoid(doID)
	dg.AddDoid(parent)
	dg.AddZone(zone)
	dg.AddUint16(dcID)
	dg.AddData(payload)
	s.client.SendDatagram(dg)

	for ctx, op := range s.pendingOps {
		if op.Parent == parent && op.PendingZones[zone] {
			op.Arrived++
		}
		s.checkOperationReady(ctx)
	}
}

func (s *Session) handleGetZonesCountResp(dgi *DatagramIterator) {
	context := dgi.ReadUint32()
	count := dgi.ReadUint32()

	op, ok := s.pendingOps[context]
	if !ok {
		s.log.Debugf("dropping get_zones_count_resp for unknown context %d", context)
		return
	}
	op.TotalExpected = &count
	s.checkOperationReady(context)
}

// handleChangingLocation implements the CHANGING_LOCATION visibility
// check: an object leaves view only when no interest covers its new
// zone (any parent — see the CHANGING_LOCATION decision in DESIGN.md)
// and it isn't owned; otherwise the projection just follows it.
func (s *Session) handleChangingLocation(dgi *DatagramIterator) {
	doID := dgi.ReadDoid()
	newParent := dgi.ReadDoid()
	newZone := dgi.ReadZone()
	_ = dgi.ReadDoid() // old parent, unused: projection already has it
	_ = dgi.ReadZone() // old zone, unused

	obj, ok := s.objects[doID]
	if ok {
		obj.Parent = newParent
		obj.Zone = newZone
	}

	if !coveredZoneAnyParent(s.interests, newZone) && !s.owned[doID] {
		s.emitLeaving(doID, false)
		delete(s.seen, doID)
		delete(s.objects, doID)
		return
	}

	dg := NewDatagram()
	dg.AddUint16(ClientObjectLocation)
	dg.AddDoid(doID)
	dg.AddDoid(newParent)
	dg.AddZone(newZone)
	s.client.SendDatagram(dg)
}
