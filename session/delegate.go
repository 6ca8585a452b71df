package session

import (
	"log"

	m "github.com/Meander-Cloud/go-pairsync/message"
)

// delegate marshals transport callbacks onto the session arbiter.
type delegate struct {
	s *Session
}

// invoked on any goroutine
func (d *delegate) ActivationComplete(state ActivationState, err error) {
	dispatchErr := d.s.a.Dispatch(
		"activation complete",
		func() {
			// invoked on arbiter goroutine
			d.s.activationComplete(state, err)
		},
	)
	if dispatchErr != nil {
		log.Printf("%s: session stopped, activation=%s not applied", d.s.c.LogPrefix, state)
	}
}

// invoked on any goroutine
func (d *delegate) ReachabilityChanged(reachable bool) {
	err := d.s.a.Dispatch(
		"reachability changed",
		func() {
			// invoked on arbiter goroutine
			d.s.reachabilityChanged(reachable)
		},
	)
	if err != nil {
		log.Printf("%s: session stopped, reachable=%t not applied", d.s.c.LogPrefix, reachable)
	}
}

// invoked on any goroutine
func (d *delegate) MessageReceived(update *m.CounterUpdate, reply ReplyHandler) {
	err := d.s.a.Dispatch(
		"message received",
		func() {
			// invoked on arbiter goroutine
			d.s.messageReceived(update, reply)
		},
	)
	if err != nil {
		// peer is left without a reply and fails its send
		log.Printf("%s: session stopped, counter update dropped", d.s.c.LogPrefix)
	}
}
