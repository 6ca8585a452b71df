// Package session keeps one integer counter in sync with a paired peer.
//
// A Session owns the local SyncValue and the session Status. Every mutation
// runs on the arbiter goroutine: public methods and transport callbacks only
// dispatch. Local edits apply optimistically and are pushed to the peer with
// at most one send in flight; received values overwrite the local one
// (last writer wins).
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Meander-Cloud/go-pairsync/arbiter"
	"github.com/Meander-Cloud/go-pairsync/config"
	m "github.com/Meander-Cloud/go-pairsync/message"
	"github.com/Meander-Cloud/go-pairsync/metrics"
)

type pendingSend struct {
	id     uint64
	value  int64
	sentAt time.Time
	done   func(bool)
}

type Session struct {
	c  *config.Config
	a  *arbiter.Arbiter
	t  Transport
	mt *metrics.Metrics
	d  *delegate

	// arbiter goroutine only
	observers   []Observer
	value       int64
	status      Status
	unsupported bool
	activating  bool
	activated   bool

	pending            *pendingSend
	pendingIDGen       uint64
	replyWaitScheduled bool

	settleScheduled bool
	settleWaiters   []chan Status
}

func NewSession(
	c *config.Config,
	a *arbiter.Arbiter,
	t Transport,
	mt *metrics.Metrics,
	observers ...Observer,
) (*Session, error) {
	if c == nil {
		err := fmt.Errorf("nil Config")
		log.Printf("%s", err.Error())
		return nil, err
	}

	if a == nil {
		err := fmt.Errorf("%s: nil Arbiter", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if t == nil {
		err := fmt.Errorf("%s: nil Transport", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	s := &Session{
		c:  c,
		a:  a,
		t:  t,
		mt: mt,

		observers: observers,
		value:     0,
		status:    StatusNotSupported,
	}
	s.d = &delegate{s: s}

	return s, nil
}

// invoked on any goroutine
func (s *Session) Subscribe(o Observer) error {
	return s.a.Dispatch(
		"subscribe",
		func() {
			s.observers = append(s.observers, o)
		},
	)
}

// invoked on any goroutine
func (s *Session) Activate() error {
	return s.a.Dispatch("activate", s.activate)
}

// Initialize activates the session, lets the link settle and reports the
// status observed at that point.
func (s *Session) Initialize(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)

	err := s.a.Dispatch(
		"initialize",
		func() {
			// invoked on arbiter goroutine
			s.activate()

			if s.unsupported {
				ch <- s.status
				return
			}

			s.settleWaiters = append(s.settleWaiters, ch)
			if s.settleScheduled {
				return
			}
			s.settleScheduled = true

			s.a.Schedule(
				arbiter.GroupActivationSettleWait,
				s.c.GetActivationSettleWait(),
				func() {
					// invoked on arbiter goroutine
					s.settleScheduled = false

					waiters := s.settleWaiters
					s.settleWaiters = nil
					for _, w := range waiters {
						w <- s.status
					}
				},
			)
		},
	)
	if err != nil {
		return StatusInvalid, err
	}

	select {
	case status := <-ch:
		return status, nil
	case <-ctx.Done():
		return StatusInvalid, ctx.Err()
	}
}

// SetValue applies value locally and pushes it to the peer when reachable.
// done, if not nil, is invoked on the arbiter goroutine with the delivery
// outcome.
func (s *Session) SetValue(value int64, done func(delivered bool)) error {
	return s.a.Dispatch(
		"set value",
		func() {
			s.setValue(value, done)
		},
	)
}

// Update is SetValue blocking until the delivery outcome is known.
func (s *Session) Update(ctx context.Context, value int64) (bool, error) {
	ch := make(chan bool, 1)

	err := s.SetValue(
		value,
		func(delivered bool) {
			ch <- delivered
		},
	)
	if err != nil {
		return false, err
	}

	select {
	case delivered := <-ch:
		return delivered, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *Session) Increment() error {
	return s.a.Dispatch(
		"increment",
		func() {
			s.setValue(s.value+1, nil)
		},
	)
}

func (s *Session) Decrement() error {
	return s.a.Dispatch(
		"decrement",
		func() {
			s.setValue(s.value-1, nil)
		},
	)
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)

	err := s.a.Dispatch(
		"snapshot",
		func() {
			ch <- Snapshot{
				Value:   s.value,
				Status:  s.status,
				Pending: s.pending != nil,
			}
		},
	)
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// invoked on arbiter goroutine
func (s *Session) activate() {
	if s.unsupported {
		log.Printf("%s: status=%s, activation not possible", s.c.LogPrefix, s.status)
		return
	}

	if s.activating || s.activated {
		// no-op
		return
	}

	if !s.t.IsSupported() {
		s.unsupported = true
		s.setStatus(StatusNotSupported, ErrTransportUnsupported)
		log.Printf("%s: %s", s.c.LogPrefix, ErrTransportUnsupported.Error())
		return
	}

	s.activating = true
	s.setStatus(StatusConnecting, nil)

	s.t.Activate(s.d)
}

// invoked on arbiter goroutine
func (s *Session) activationComplete(state ActivationState, err error) {
	if s.unsupported {
		return
	}

	if !s.activating && !s.activated {
		log.Printf(
			"%s: status=%s, ignoring activation=%s, err=%v",
			s.c.LogPrefix,
			s.status,
			state,
			err,
		)
		return
	}

	if err != nil {
		s.activating = false
		s.activated = false
		s.setStatus(StatusError, &ActivationFailedError{Cause: err})
		return
	}

	s.activating = state == ActivationNotActivated
	s.activated = !s.activating
	s.setStatus(statusForActivation(state, nil, s.t), nil)
}

// invoked on arbiter goroutine
func (s *Session) reachabilityChanged(reachable bool) {
	if !s.activated {
		// error is sticky until activate is invoked again
		if s.c.LogDebug {
			log.Printf("%s: status=%s, ignoring reachable=%t", s.c.LogPrefix, s.status, reachable)
		}
		return
	}

	s.setStatus(
		DeriveStatus(
			s.t.IsSupported(),
			s.t.IsPaired(),
			s.t.IsAppInstalled(),
			reachable,
			nil,
		),
		nil,
	)
}

// invoked on arbiter goroutine
func (s *Session) messageReceived(update *m.CounterUpdate, reply ReplyHandler) {
	if update == nil {
		log.Printf("%s: nil CounterUpdate", s.c.LogPrefix)
		return
	}

	old := s.value
	s.value = update.Counter
	s.mt.Received()
	s.mt.Counter(s.value)

	log.Printf("%s: counter=%d -> %d, from peer", s.c.LogPrefix, old, s.value)
	s.notifyCounter(OriginRemote)

	if reply != nil {
		reply(m.NewCounterAck())
	}
}

// invoked on arbiter goroutine
func (s *Session) setValue(value int64, done func(bool)) {
	old := s.value
	s.value = value
	s.mt.Counter(s.value)

	log.Printf("%s: counter=%d -> %d, local", s.c.LogPrefix, old, s.value)
	s.notifyCounter(OriginLocal)

	if !s.activated || !s.t.IsReachable() {
		// dropped, local value stays
		log.Printf("%s: status=%s, peer unreachable, not sending counter=%d", s.c.LogPrefix, s.status, value)
		s.mt.SendOutcome(metrics.OutcomeUnreachable)
		finish(done, false)
		return
	}

	if s.pending != nil {
		s.completePending(s.pending.id, false, ErrSendSuperseded, metrics.OutcomeSuperseded)
	}

	s.pendingIDGen++
	id := s.pendingIDGen
	s.pending = &pendingSend{
		id:     id,
		value:  value,
		sentAt: time.Now().UTC(),
		done:   done,
	}
	s.mt.Pending(true)

	wait := s.c.GetSendReplyWait()
	if wait > 0 {
		s.a.Schedule(
			arbiter.GroupSendReplyWait,
			wait,
			func() {
				// invoked on arbiter goroutine
				s.replyWaitScheduled = false
				s.completePending(id, false, ErrSendTimeout, metrics.OutcomeTimeout)
			},
		)
		s.replyWaitScheduled = true
	}

	s.t.Send(
		&m.CounterUpdate{
			Counter: value,
		},
		func(*m.CounterAck) {
			dispatchErr := s.a.Dispatch(
				"send reply",
				func() {
					s.completePending(id, true, nil, metrics.OutcomeDelivered)
				},
			)
			if dispatchErr != nil {
				log.Printf("%s: session stopped, send<%d> reply not applied", s.c.LogPrefix, id)
			}
		},
		func(err error) {
			outcome := metrics.OutcomeFailed
			if errors.Is(err, ErrSendUnreachable) {
				outcome = metrics.OutcomeUnreachable
			}

			dispatchErr := s.a.Dispatch(
				"send error",
				func() {
					s.completePending(id, false, err, outcome)
				},
			)
			if dispatchErr != nil {
				log.Printf("%s: session stopped, send<%d> error not applied, err=%s", s.c.LogPrefix, id, err.Error())
			}
		},
	)
}

// invoked on arbiter goroutine
func (s *Session) completePending(id uint64, delivered bool, err error, outcome string) {
	if s.pending == nil || s.pending.id != id {
		if s.c.LogDebug {
			log.Printf("%s: send<%d> %s arrived after completion", s.c.LogPrefix, id, outcome)
		}
		return
	}

	p := s.pending
	s.pending = nil
	s.mt.Pending(false)

	if s.replyWaitScheduled {
		s.a.Release(arbiter.GroupSendReplyWait)
		s.replyWaitScheduled = false
	}

	s.mt.SendOutcome(outcome)
	if err != nil {
		log.Printf(
			"%s: send<%d> counter=%d not delivered after %v, err=%s",
			s.c.LogPrefix,
			p.id,
			p.value,
			time.Since(p.sentAt),
			err.Error(),
		)
	} else if s.c.LogDebug {
		log.Printf("%s: send<%d> counter=%d acknowledged after %v", s.c.LogPrefix, p.id, p.value, time.Since(p.sentAt))
	}

	finish(p.done, delivered)
}

// invoked on arbiter goroutine
func (s *Session) setStatus(status Status, err error) {
	if status == s.status {
		return
	}

	old := s.status
	s.status = status
	s.mt.StatusChanged(status.Key())

	log.Printf("%s: status=%s -> %s, err=%v", s.c.LogPrefix, old, status, err)

	evt := &StatusChanged{
		Old:  old,
		New:  status,
		Err:  err,
		Time: time.Now().UTC(),
	}
	for _, o := range s.observers {
		o.StatusChanged(evt)
	}
}

// invoked on arbiter goroutine
func (s *Session) notifyCounter(origin Origin) {
	evt := &CounterChanged{
		Value:  s.value,
		Origin: origin,
		Time:   time.Now().UTC(),
	}
	for _, o := range s.observers {
		o.CounterChanged(evt)
	}
}

func finish(done func(bool), delivered bool) {
	if done != nil {
		done(delivered)
	}
}
