package clientagent

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"gatekeep/bus"
	"gatekeep/dclass"
	"gatekeep/eventsender"
	. "gatekeep/wire"

	"github.com/stretchr/testify/require"
)

const (
	testHash    = uint32(0xDEADBEEF)
	testVersion = "v1"
)

type fakeStateServer struct {
	bus.ParticipantBase
	received chan Datagram
}

func newFakeStateServer(b *bus.Local) *fakeStateServer {
	f := &fakeStateServer{received: make(chan Datagram, 32)}
	f.Init(b, f, "FakeStateServer")
	return f
}

func (f *fakeStateServer) HandleDatagram(dg Datagram, dgi *DatagramIterator) {
	f.received <- dg
}

func (f *fakeStateServer) Terminate(error) {}

func (f *fakeStateServer) expectMsgtype(t *testing.T, want uint16) *DatagramIterator {
	select {
	case dg := <-f.received:
		dgi := NewDatagramIterator(&dg)
		dgi.SeekPayload()
		dgi.ReadChannel() // sender
		got := dgi.ReadUint16()
		require.EqualValues(t, want, got)
		return dgi
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MD datagram")
		return nil
	}
}

func writeFrame(t *testing.T, conn net.Conn, payload Datagram) {
	frame := NewDatagram()
	frame.AddUint16(uint16(payload.Len()))
	frame.Write(payload.Bytes())
	_, err := conn.Write(frame.Bytes())
	require.NoError(t, err)
}

func readFrame(t *testing.T, conn net.Conn) Datagram {
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var lenBuf [2]byte
	_, err := readFull(conn, lenBuf[:])
	require.NoError(t, err)
	sz := binary.LittleEndian.Uint16(lenBuf[:])

	buf := make([]byte, sz)
	_, err = readFull(conn, buf)
	require.NoError(t, err)

	dg := NewDatagram()
	dg.Write(buf)
	return dg
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func newTestAgent(t *testing.T, b *bus.Local, channelMin, channelMax Channel_t) *Agent {
	registry := dclass.NewInMemory(testHash)
	registry.AddClass(&dclass.Class{
		Number: 1,
		Name:   "DistributedAvatar",
		Fields: map[uint16]dclass.Field{
			7: {Index: 7, Name: "setName", Type: dclass.FieldString, ClSend: true},
			8: {Index: 8, Name: "setPosition", Type: dclass.FieldFixed, Size: 12, OwnSend: true},
		},
	})

	a := NewAgent(b, registry, eventsender.Null{}, channelMin, channelMax, testHash, testVersion)
	require.NoError(t, a.AddUberdog(Doid_t(100), "DistributedAvatar", true))
	return a
}

func startAgent(t *testing.T, a *Agent, bindAddr string) {
	errChan := make(chan error, 1)
	go a.Start(bindAddr, errChan, false)
	require.NoError(t, <-errChan)
	t.Cleanup(func() { a.Shutdown() })
}

func dialAndHello(t *testing.T, bindAddr string) net.Conn {
	conn, err := net.Dial("tcp", bindAddr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := NewDatagram()
	hello.AddUint16(ClientHello)
	hello.AddUint32(testHash)
	hello.AddString(testVersion)
	writeFrame(t, conn, hello)

	resp := readFrame(t, conn)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientHelloResp, dgi.ReadUint16())
	return conn
}

func TestScenario_HandshakeSuccess(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	a := newTestAgent(t, b, 5000, 5099)
	startAgent(t, a, "127.0.0.1:17198")

	dialAndHello(t, "127.0.0.1:17198")
}

func TestScenario_HandshakeBadVersion(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	a := newTestAgent(t, b, 5000, 5099)
	startAgent(t, a, "127.0.0.1:17199")

	conn, err := net.Dial("tcp", "127.0.0.1:17199")
	require.NoError(t, err)
	defer conn.Close()

	hello := NewDatagram()
	hello.AddUint16(ClientHello)
	hello.AddUint32(testHash)
	hello.AddString("wrong-version")
	writeFrame(t, conn, hello)

	resp := readFrame(t, conn)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientEject, dgi.ReadUint16())
	require.EqualValues(t, DisconnectBadVersion, dgi.ReadUint16())
}

func TestScenario_HandshakeBadHash(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	a := newTestAgent(t, b, 5000, 5099)
	startAgent(t, a, "127.0.0.1:17200")

	conn, err := net.Dial("tcp", "127.0.0.1:17200")
	require.NoError(t, err)
	defer conn.Close()

	hello := NewDatagram()
	hello.AddUint16(ClientHello)
	hello.AddUint32(0x12345678)
	hello.AddString(testVersion)
	writeFrame(t, conn, hello)

	resp := readFrame(t, conn)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientEject, dgi.ReadUint16())
	require.EqualValues(t, DisconnectBadDCHash, dgi.ReadUint16())
}

func TestScenario_AnonymousUberdogSetField(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	ss := newFakeStateServer(b)
	ss.SubscribeChannel(Channel_t(100))

	a := newTestAgent(t, b, 5000, 5099)
	startAgent(t, a, "127.0.0.1:17201")

	conn := dialAndHello(t, "127.0.0.1:17201")

	setField := NewDatagram()
	setField.AddUint16(ClientObjectSetField)
	setField.AddDoid(Doid_t(100))
	setField.AddUint16(7)
	setField.AddString("Alice")
	writeFrame(t, conn, setField)

	dgi := ss.expectMsgtype(t, StateServerObjectSetField)
	require.EqualValues(t, 100, dgi.ReadDoid())
	require.EqualValues(t, 7, dgi.ReadUint16())
	require.Equal(t, "Alice", dgi.ReadString())
}

// TestScenario_SetFieldTrailingBytesIsOversizedDatagram pins unpack_field
// to exactly the field's own wire-encoded bytes: appending a stray byte
// after a well-formed setName value must surface as leftover and be
// rejected, not get silently absorbed into the field payload.
func TestScenario_SetFieldTrailingBytesIsOversizedDatagram(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	ss := newFakeStateServer(b)
	ss.SubscribeChannel(Channel_t(100))

	a := newTestAgent(t, b, 5100, 5199)
	startAgent(t, a, "127.0.0.1:17209")

	conn := dialAndHello(t, "127.0.0.1:17209")

	setField := NewDatagram()
	setField.AddUint16(ClientObjectSetField)
	setField.AddDoid(Doid_t(100))
	setField.AddUint16(7)
	setField.AddString("Alice")
	setField.AddUint8(0xFF) // trailing junk past the field's own encoding
	writeFrame(t, conn, setField)

	resp := readFrame(t, conn)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientEject, dgi.ReadUint16())
	require.EqualValues(t, DisconnectOversizedDatagram, dgi.ReadUint16())
}

func TestScenario_ChannelExhaustionEjectsAndFreeingAllowsReuse(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	a := newTestAgent(t, b, 6000, 6000)
	startAgent(t, a, "127.0.0.1:17202")

	first := dialAndHello(t, "127.0.0.1:17202")

	second, err := net.Dial("tcp", "127.0.0.1:17202")
	require.NoError(t, err)
	defer second.Close()
	resp := readFrame(t, second)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientEject, dgi.ReadUint16())
	require.EqualValues(t, DisconnectGeneric, dgi.ReadUint16())

	first.Close()
	require.Eventually(t, func() bool {
		third, err := net.Dial("tcp", "127.0.0.1:17202")
		if err != nil {
			return false
		}
		defer third.Close()

		hello := NewDatagram()
		hello.AddUint16(ClientHello)
		hello.AddUint32(testHash)
		hello.AddString(testVersion)
		writeFrame(t, third, hello)

		third.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		resp := readFrame(t, third)
		dgi := NewDatagramIterator(&resp)
		return dgi.ReadUint16() == ClientHelloResp
	}, 2*time.Second, 20*time.Millisecond)
}

func TestScenario_InterestOpenOnEmptyZone(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	ss := newFakeStateServer(b)
	ss.SubscribeChannel(ParentToChildren(Doid_t(500)))

	a := newTestAgent(t, b, 7000, 7099)
	startAgent(t, a, "127.0.0.1:17203")

	conn := dialAndHello(t, "127.0.0.1:17203")

	// ESTABLISHED: advance the session state the way the role normally would in
	// response to authentication completing on the bus.
	promoteToEstablished(t, b, Channel_t(7000))

	addInterest := NewDatagram()
	addInterest.AddUint16(ClientAddInterest)
	addInterest.AddUint32(42)
	addInterest.AddUint16(1)
	addInterest.AddDoid(Doid_t(500))
	addInterest.AddZone(Zone_t(9000))
	writeFrame(t, conn, addInterest)

	dgi := ss.expectMsgtype(t, StateServerObjectGetZonesObjects)
	context := dgi.ReadUint32()
	require.EqualValues(t, 500, dgi.ReadDoid())
	require.EqualValues(t, 1, dgi.ReadUint16())
	require.EqualValues(t, 9000, dgi.ReadZone())

	countResp := NewDatagram()
	countResp.AddServerHeader(Channel_t(7000), BCHAN_STATESERVERS, StateServerObjectGetZonesCountResp)
	countResp.AddUint32(context)
	countResp.AddUint32(0)
	ss.RouteDatagram(countResp)

	resp := readFrame(t, conn)
	respDgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientDoneInterestResp, respDgi.ReadUint16())
	require.EqualValues(t, 42, respDgi.ReadUint32())
	require.EqualValues(t, 1, respDgi.ReadUint16())
}

func TestScenario_InterestOpenWithTwoObjects(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	ss := newFakeStateServer(b)
	ss.SubscribeChannel(ParentToChildren(Doid_t(500)))

	a := newTestAgent(t, b, 7100, 7199)
	startAgent(t, a, "127.0.0.1:17204")

	conn := dialAndHello(t, "127.0.0.1:17204")
	promoteToEstablished(t, b, Channel_t(7100))

	addInterest := NewDatagram()
	addInterest.AddUint16(ClientAddInterest)
	addInterest.AddUint32(42)
	addInterest.AddUint16(1)
	addInterest.AddDoid(Doid_t(500))
	addInterest.AddZone(Zone_t(9000))
	writeFrame(t, conn, addInterest)

	dgi := ss.expectMsgtype(t, StateServerObjectGetZonesObjects)
	context := dgi.ReadUint32()

	sendEnterLocation := func(doID Doid_t) {
		dg := NewDatagram()
		dg.AddServerHeader(LocationAsChannel(Doid_t(500), Zone_t(9000)), BCHAN_STATESERVERS, StateServerObjectEnterLocationWithRequired)
		dg.AddDoid(doID)
		dg.AddDoid(Doid_t(500))
		dg.AddZone(Zone_t(9000))
		dg.AddUint16(1)
		dg.AddString("payload")
		ss.RouteDatagram(dg)
	}
	sendEnterLocation(Doid_t(1))
	sendEnterLocation(Doid_t(2))

	for i := 0; i < 2; i++ {
		resp := readFrame(t, conn)
		respDgi := NewDatagramIterator(&resp)
		require.EqualValues(t, ClientEnterObjectRequired, respDgi.ReadUint16())
	}

	countResp := NewDatagram()
	countResp.AddServerHeader(Channel_t(7100), BCHAN_STATESERVERS, StateServerObjectGetZonesCountResp)
	countResp.AddUint32(context)
	countResp.AddUint32(2)
	ss.RouteDatagram(countResp)

	resp := readFrame(t, conn)
	respDgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientDoneInterestResp, respDgi.ReadUint16())
	require.EqualValues(t, 42, respDgi.ReadUint32())
	require.EqualValues(t, 1, respDgi.ReadUint16())
}

func TestScenario_ObjectLocationChangeLeavesView(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	ss := newFakeStateServer(b)
	ss.SubscribeChannel(ParentToChildren(Doid_t(500)))

	a := newTestAgent(t, b, 7200, 7299)
	startAgent(t, a, "127.0.0.1:17205")

	conn := dialAndHello(t, "127.0.0.1:17205")
	promoteToEstablished(t, b, Channel_t(7200))

	openInterestOnZone9000(t, conn, ss, Channel_t(7200), 500, 9000)

	changing := NewDatagram()
	changing.AddServerHeader(LocationAsChannel(Doid_t(500), Zone_t(9000)), BCHAN_STATESERVERS, StateServerObjectChangingLocation)
	changing.AddDoid(Doid_t(1))
	changing.AddDoid(Doid_t(500))
	changing.AddZone(Zone_t(9001))
	changing.AddDoid(Doid_t(500))
	changing.AddZone(Zone_t(9000))
	ss.RouteDatagram(changing)

	resp := readFrame(t, conn)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientObjectLeaving, dgi.ReadUint16())
	require.EqualValues(t, 1, dgi.ReadDoid())
}

func TestScenario_OwnedObjectResistsLocationEviction(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	ss := newFakeStateServer(b)

	a := newTestAgent(t, b, 7300, 7399)
	startAgent(t, a, "127.0.0.1:17206")

	conn := dialAndHello(t, "127.0.0.1:17206")
	promoteToEstablished(t, b, Channel_t(7300))

	enterOwner := NewDatagram()
	enterOwner.AddServerHeader(Channel_t(7300), BCHAN_STATESERVERS, StateServerObjectEnterOwnerWithRequiredOther)
	enterOwner.AddDoid(Doid_t(1))
	enterOwner.AddDoid(Doid_t(500))
	enterOwner.AddZone(Zone_t(9000))
	enterOwner.AddUint16(1)
	enterOwner.AddString("payload")
	ss.RouteDatagram(enterOwner)

	resp := readFrame(t, conn)
	dgi := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientEnterObjectRequiredOtherOwner, dgi.ReadUint16())

	changing := NewDatagram()
	changing.AddServerHeader(Channel_t(7300), BCHAN_STATESERVERS, StateServerObjectChangingLocation)
	changing.AddDoid(Doid_t(1))
	changing.AddDoid(Doid_t(500))
	changing.AddZone(Zone_t(9001))
	changing.AddDoid(Doid_t(500))
	changing.AddZone(Zone_t(9000))
	ss.RouteDatagram(changing)

	resp = readFrame(t, conn)
	dgi = NewDatagramIterator(&resp)
	require.EqualValues(t, ClientObjectLocation, dgi.ReadUint16())
	require.EqualValues(t, 1, dgi.ReadDoid())
	require.EqualValues(t, 500, dgi.ReadDoid())
	require.EqualValues(t, 9001, dgi.ReadZone())
}

// openInterestOnZone9000 drives the ADD_INTEREST / ENTER_LOCATION / DONE_INTEREST_RESP
// round trip for a single object A at (parent, 9000), leaving the session's
// projection and bus subscriptions exactly as they'd be after a real client did it.
func openInterestOnZone9000(t *testing.T, conn net.Conn, ss *fakeStateServer, identity Channel_t, parent Doid_t, zone Zone_t) {
	addInterest := NewDatagram()
	addInterest.AddUint16(ClientAddInterest)
	addInterest.AddUint32(42)
	addInterest.AddUint16(1)
	addInterest.AddDoid(parent)
	addInterest.AddZone(zone)
	writeFrame(t, conn, addInterest)

	dgi := ss.expectMsgtype(t, StateServerObjectGetZonesObjects)
	context := dgi.ReadUint32()

	enter := NewDatagram()
	enter.AddServerHeader(LocationAsChannel(parent, zone), BCHAN_STATESERVERS, StateServerObjectEnterLocationWithRequired)
	enter.AddDoid(Doid_t(1))
	enter.AddDoid(parent)
	enter.AddZone(zone)
	enter.AddUint16(1)
	enter.AddString("payload")
	ss.RouteDatagram(enter)

	resp := readFrame(t, conn)
	dgi2 := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientEnterObjectRequired, dgi2.ReadUint16())

	countResp := NewDatagram()
	countResp.AddServerHeader(identity, BCHAN_STATESERVERS, StateServerObjectGetZonesCountResp)
	countResp.AddUint32(context)
	countResp.AddUint32(1)
	ss.RouteDatagram(countResp)

	resp = readFrame(t, conn)
	dgi3 := NewDatagramIterator(&resp)
	require.EqualValues(t, ClientDoneInterestResp, dgi3.ReadUint16())
}

func TestAddUberdog_UnknownClassFailsLoudlyInsteadOfInstallingNilClass(t *testing.T) {
	b := bus.New()
	defer b.Stop()
	registry := dclass.NewInMemory(testHash)

	a := NewAgent(b, registry, eventsender.Null{}, 9000, 9099, testHash, testVersion)
	err := a.AddUberdog(Doid_t(100), "NoSuchClass", true)
	require.Error(t, err)

	_, ok := a.uberdogs.Lookup(Doid_t(100))
	require.False(t, ok, "an uberdog whose class failed to resolve must not be installed at all")
}

// promoteToEstablished mimics what an auth/login uberdog would do after
// successfully authenticating a client: tell the agent to flip this
// session into ESTABLISHED via CLIENTAGENT_SET_STATE.
func promoteToEstablished(t *testing.T, b *bus.Local, identityChannel Channel_t) {
	helper := newFakeStateServer(b)
	defer helper.Cleanup()

	dg := NewDatagram()
	dg.AddServerHeader(identityChannel, BCHAN_STATESERVERS, ClientAgentSetState)
	dg.AddUint8(uint8(StateEstablished))
	helper.RouteDatagram(dg)
	time.Sleep(50 * time.Millisecond)
}
