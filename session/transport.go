package session

import (
	m "github.com/Meander-Cloud/go-pairsync/message"
)

type ReplyHandler func(*m.CounterAck)

type ErrorHandler func(error)

// Delegate receives link callbacks. Implementations may be invoked on any
// goroutine.
type Delegate interface {
	ActivationComplete(ActivationState, error)
	ReachabilityChanged(bool)
	// reply is nil when the sender does not expect an acknowledgment
	MessageReceived(*m.CounterUpdate, ReplyHandler)
}

// Transport is the pairing link consumed by Session.
type Transport interface {
	IsSupported() bool
	// Activate starts the link and reports completion to the delegate
	// asynchronously. Calling it again re-reports completion.
	Activate(Delegate)
	IsReachable() bool
	IsPaired() bool
	IsAppInstalled() bool
	// Send is invoked on the session arbiter goroutine. Exactly one of
	// onReply or onError fires, possibly never if the link stalls.
	Send(update *m.CounterUpdate, onReply ReplyHandler, onError ErrorHandler)
}

// UnsupportedTransport is the link for platforms without pairing support.
type UnsupportedTransport struct{}

func (UnsupportedTransport) IsSupported() bool    { return false }
func (UnsupportedTransport) Activate(Delegate)    {}
func (UnsupportedTransport) IsReachable() bool    { return false }
func (UnsupportedTransport) IsPaired() bool       { return false }
func (UnsupportedTransport) IsAppInstalled() bool { return false }

func (UnsupportedTransport) Send(_ *m.CounterUpdate, _ ReplyHandler, onError ErrorHandler) {
	if onError != nil {
		onError(ErrTransportUnsupported)
	}
}
