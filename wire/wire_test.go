package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatagram_RoundTrip(t *testing.T) {
	dg := NewDatagram()
	dg.AddUint16(65535)
	dg.AddUint32(4294967295)
	dg.AddString("hello")
	dg.AddBool(true)

	dgi := NewDatagramIterator(&dg)
	require.EqualValues(t, 65535, dgi.ReadUint16())
	require.EqualValues(t, 4294967295, dgi.ReadUint32())
	require.Equal(t, "hello", dgi.ReadString())
	require.True(t, dgi.ReadBool())
}

func TestDatagram_ServerHeader(t *testing.T) {
	dg := NewDatagram()
	dg.AddServerHeader(Channel_t(100), Channel_t(200), StateServerObjectSetField)

	dgi := NewDatagramIterator(&dg)
	require.EqualValues(t, 1, dgi.RecipientCount())
	require.EqualValues(t, 200, dgi.Sender())
	require.EqualValues(t, StateServerObjectSetField, dgi.MessageType())

	// Re-seek and read the envelope in order, as a real handler would.
	dgi2 := NewDatagramIterator(&dg)
	require.EqualValues(t, 1, dgi2.ReadUint8())
	require.EqualValues(t, 100, dgi2.ReadChannel())
	require.EqualValues(t, 200, dgi2.ReadChannel())
	require.EqualValues(t, StateServerObjectSetField, dgi2.ReadUint16())
}

func TestDatagramIterator_TruncatedPanics(t *testing.T) {
	dg := NewDatagram()
	dg.AddUint8(1)

	dgi := NewDatagramIterator(&dg)
	require.Panics(t, func() {
		dgi.ReadUint64()
	})
}

func TestDatagramIterator_ReadRemainder(t *testing.T) {
	dg := NewDatagram()
	dg.AddUint16(1)
	dg.AddData([]byte{1, 2, 3})

	dgi := NewDatagramIterator(&dg)
	dgi.ReadUint16()
	require.EqualValues(t, []uint8{1, 2, 3}, dgi.ReadRemainder())
}

func TestLocationAsChannel(t *testing.T) {
	ch := LocationAsChannel(Doid_t(500), Zone_t(9000))
	require.EqualValues(t, Channel_t(500)<<32|9000, ch)
}
