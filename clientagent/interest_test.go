package clientagent

import (
	. "gatekeep/wire"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterestOperation_ReadyOnlyWhenCountMatchesArrivals(t *testing.T) {
	op := newInterestOperation(1, 42, Doid_t(500), map[Zone_t]bool{9000: true})
	require.False(t, op.Ready())

	op.Arrived = 2
	require.False(t, op.Ready(), "no total_expected yet")

	count := uint32(2)
	op.TotalExpected = &count
	require.True(t, op.Ready())
}

func TestCovered_RequiresMatchingParent(t *testing.T) {
	interests := map[uint16]*Interest{
		1: newInterest(1, Doid_t(500), []Zone_t{9000}),
	}
	require.True(t, covered(interests, Doid_t(500), Zone_t(9000)))
	require.False(t, covered(interests, Doid_t(501), Zone_t(9000)), "different parent, same zone")
}

func TestCoveredZoneAnyParent_IgnoresParent(t *testing.T) {
	interests := map[uint16]*Interest{
		1: newInterest(1, Doid_t(500), []Zone_t{9000}),
	}
	require.True(t, coveredZoneAnyParent(interests, Zone_t(9000)))
	require.False(t, coveredZoneAnyParent(interests, Zone_t(9001)))
}

func TestCoveredElsewhere_SkipsNamedInterest(t *testing.T) {
	interests := map[uint16]*Interest{
		1: newInterest(1, Doid_t(500), []Zone_t{9000}),
		2: newInterest(2, Doid_t(500), []Zone_t{9000}),
	}
	require.True(t, coveredElsewhere(interests, 1, true, Doid_t(500), Zone_t(9000)), "interest 2 still covers it")

	delete(interests, 2)
	require.False(t, coveredElsewhere(interests, 1, true, Doid_t(500), Zone_t(9000)), "only interest 1 covered it")
}
