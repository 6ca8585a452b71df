package message

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindInvalid       Kind = 0
	KindPeerHello     Kind = 1
	KindPeerBye       Kind = 2
	KindCounterUpdate Kind = 3
	KindCounterAck    Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "Invalid Kind"
	case KindPeerHello:
		return "Peer Hello"
	case KindPeerBye:
		return "Peer Bye"
	case KindCounterUpdate:
		return "Counter Update"
	case KindCounterAck:
		return "Counter Ack"
	default:
		return "Unknown Kind"
	}
}

var ErrMalformed = errors.New("malformed message")

// Message is the wire envelope. Exactly one variant pointer is set.
type Message struct {
	Txseq   uint64 `json:"txseq"`
	Txtime  int64  `json:"txtime"`             // epoch milliseconds
	ReplyTo uint64 `json:"reply_to,omitempty"` // txseq being acknowledged

	PeerHello *PeerHello `json:"peer_hello,omitempty" msgpack:",omitempty"`
	PeerBye   *PeerBye   `json:"peer_bye,omitempty" msgpack:",omitempty"`

	CounterUpdate *CounterUpdate `json:"counter_update,omitempty" msgpack:",omitempty"`
	CounterAck    *CounterAck    `json:"counter_ack,omitempty" msgpack:",omitempty"`
}

// Kind returns the variant carried, or KindInvalid when zero or several are set.
func (msg *Message) Kind() Kind {
	kind := KindInvalid
	count := 0
	if msg.PeerHello != nil {
		kind = KindPeerHello
		count++
	}
	if msg.PeerBye != nil {
		kind = KindPeerBye
		count++
	}
	if msg.CounterUpdate != nil {
		kind = KindCounterUpdate
		count++
	}
	if msg.CounterAck != nil {
		kind = KindCounterAck
		count++
	}
	if count != 1 {
		return KindInvalid
	}
	return kind
}

func (msg *Message) Validate() error {
	kind := msg.Kind()
	switch kind {
	case KindInvalid:
		return fmt.Errorf("%w: expected exactly one variant, txseq=%d", ErrMalformed, msg.Txseq)
	case KindPeerHello:
		if msg.PeerHello.Participant == nil {
			return fmt.Errorf("%w: nil Participant in %s", ErrMalformed, kind)
		}
		err := msg.PeerHello.Participant.Validate()
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ErrMalformed, kind, err.Error())
		}
	case KindCounterAck:
		if msg.ReplyTo == 0 {
			return fmt.Errorf("%w: %s without reply_to", ErrMalformed, kind)
		}
		if msg.CounterAck.Status != AckStatusReceived {
			return fmt.Errorf("%w: %s status=%q", ErrMalformed, kind, msg.CounterAck.Status)
		}
	}
	return nil
}
