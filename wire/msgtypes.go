package wire

// Message type codes carried in the payload of every datagram, client-facing
// and server-facing alike. Grouped the way the protocol groups them: client
// requests, client responses/pushes, then internal agent<->bus control
// messages. Numeric values only need to be internally consistent; nothing
// outside this repository decodes them.
const (
	ClientHello uint16 = iota + 1
	ClientHelloResp
	ClientEject
	ClientHeartbeat

	ClientObjectSetField
	ClientObjectLocation
	ClientAddInterest
	ClientAddInterestMultiple
	ClientRemoveInterest
	ClientDoneInterestResp

	ClientObjectLeaving
	ClientObjectLeavingOwner
	ClientEnterObjectRequired
	ClientEnterObjectRequiredOther
	ClientEnterObjectRequiredOwner
	ClientEnterObjectRequiredOtherOwner
)

const (
	ClientAgentEject uint16 = iota + 100
	ClientAgentDrop
	ClientAgentSetState
	ClientAgentSetClientID
	ClientAgentSendDatagram
	ClientAgentOpenChannel
	ClientAgentCloseChannel
	ClientAgentAddPostRemove
	ClientAgentClearPostRemoves
)

const (
	StateServerObjectSetField uint16 = iota + 200
	StateServerObjectSetLocation
	StateServerObjectDeleteRAM
	StateServerObjectEnterOwnerWithRequiredOther
	StateServerObjectEnterLocationWithRequired
	StateServerObjectEnterLocationWithRequiredOther
	StateServerObjectGetZonesObjects
	StateServerObjectGetZonesCountResp
	StateServerObjectChangingLocation
)

// ClientDisconnect reasons. Stable numeric codes per spec.md §6.
const (
	DisconnectGeneric uint16 = iota + 1
	DisconnectNoHello
	DisconnectBadDCHash
	DisconnectBadVersion
	DisconnectInvalidMsgtype
	DisconnectAnonymousViolation
	DisconnectMissingObject
	DisconnectForbiddenField
	DisconnectForbiddenRelocate
	DisconnectTruncatedDatagram
	DisconnectOversizedDatagram
)

// MaxDatagramPayload bounds an outgoing MD envelope; an envelope larger than
// this cannot be framed by downstream transports that use a 16-bit length
// prefix and must eject the session per spec.md §4.4 / §7.6.
const MaxDatagramPayload = 65535
