package clientagent

import (
	. "gatekeep/wire"
)

// Interest is a standing client request to observe objects at (parent,
// z) for every z in Zones.
type Interest struct {
	ID     uint16
	Parent Doid_t
	Zones  map[Zone_t]bool
}

func newInterest(id uint16, parent Doid_t, zones []Zone_t) *Interest {
	i := &Interest{ID: id, Parent: parent, Zones: make(map[Zone_t]bool, len(zones))}
	for _, z := range zones {
		i.Zones[z] = true
	}
	return i
}

// InterestOperation tracks completion of a newly opened or altered
// interest: it is ready once TotalExpected has been delivered by a
// GET_ZONES_COUNT_RESP and that many ENTER_LOCATION_* messages for the
// operation's zones have arrived.
type InterestOperation struct {
	InterestID    uint16
	ClientContext uint32
	Parent        Doid_t
	PendingZones  map[Zone_t]bool

	TotalExpected *uint32
	Arrived       uint32
}

func newInterestOperation(interestID uint16, clientContext uint32, parent Doid_t, zones map[Zone_t]bool) *InterestOperation {
	pending := make(map[Zone_t]bool, len(zones))
	for z := range zones {
		pending[z] = true
	}
	return &InterestOperation{
		InterestID:    interestID,
		ClientContext: clientContext,
		Parent:        parent,
		PendingZones:  pending,
	}
}

func (op *InterestOperation) Ready() bool {
	return op.TotalExpected != nil && op.Arrived == *op.TotalExpected
}

// coveredElsewhere reports whether some interest other than skip covers
// (parent, zone).
func coveredElsewhere(interests map[uint16]*Interest, skip uint16, hasSkip bool, parent Doid_t, zone Zone_t) bool {
	for id, i := range interests {
		if hasSkip && id == skip {
			continue
		}
		if i.Parent == parent && i.Zones[zone] {
			return true
		}
	}
	return false
}

// covered reports whether any interest covers (parent, zone).
func covered(interests map[uint16]*Interest, parent Doid_t, zone Zone_t) bool {
	return coveredElsewhere(interests, 0, false, parent, zone)
}

// coveredZoneAnyParent reports whether any interest lists zone among its
// Zones, regardless of that interest's parent. This reproduces the
// source behavior for CHANGING_LOCATION that the parent-matching
// covered() intentionally does not: see the CHANGING_LOCATION decision
// in DESIGN.md.
func coveredZoneAnyParent(interests map[uint16]*Interest, zone Zone_t) bool {
	for _, i := range interests {
		if i.Zones[zone] {
			return true
		}
	}
	return false
}
