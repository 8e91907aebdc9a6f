package clientagent

import (
	"gatekeep/dclass"
	. "gatekeep/wire"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUberdogTable_LookupMissing(t *testing.T) {
	tbl := NewUberdogTable()
	_, ok := tbl.Lookup(Doid_t(100))
	require.False(t, ok)
}

func TestUberdogTable_AddAndLookup(t *testing.T) {
	tbl := NewUberdogTable()
	class := &dclass.Class{Number: 3, Name: "LoginManager"}
	tbl.Add(Doid_t(100), class, true)

	u, ok := tbl.Lookup(Doid_t(100))
	require.True(t, ok)
	require.True(t, u.Anonymous)
	require.Equal(t, class, u.Class)
}
