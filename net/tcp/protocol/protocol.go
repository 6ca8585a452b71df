package protocol

import (
	"net"
	"sync/atomic"
	"time"

	m "github.com/Meander-Cloud/go-pairsync/message"
)

const (
	tcpWriteDeadline time.Duration = time.Second * 3
	closeGrace       time.Duration = time.Millisecond * 250
	helloWait        time.Duration = time.Second * 10
)

const (
	typicalBufferLen int    = 1024  // 1 KB
	maxPayloadLen    uint32 = 16384 // 16 KB
	headerLen        int    = 7
)

const (
	protocolPattern byte = 0x5A
	protocolVersion byte = 0x01
)

const (
	PrimarySenderID   byte = 0x01
	CompanionSenderID byte = 0x02
)

type ConnVolatileData struct {
	PeerParticipant *m.Participant
	PeerID          string
	Descriptor      string
}

type ConnState struct {
	ConnID uint32
	Conn   net.Conn
	// callers can set pointers but must not modify pointed data, to allow concurrent immutable read
	Data  atomic.Pointer[ConnVolatileData]
	Ready atomic.Bool
}
