// Package sessiontest provides a scriptable in-memory Transport and an
// Observer recorder for exercising sessions without a network.
package sessiontest

import (
	"sync"

	m "github.com/Meander-Cloud/go-pairsync/message"
	"github.com/Meander-Cloud/go-pairsync/session"
)

type Transport struct {
	mu sync.Mutex

	supported bool
	paired    bool
	installed bool
	reachable bool

	activationState session.ActivationState
	activationErr   error
	activateCount   int
	delegate        session.Delegate

	peer        *Transport
	sendErr     error
	holdReplies bool
	sent        []int64
	acks        []*m.CounterAck
}

// NewTransport returns a supported, paired, installed and reachable link
// whose activation completes immediately.
func NewTransport() *Transport {
	return &Transport{
		supported:       true,
		paired:          true,
		installed:       true,
		reachable:       true,
		activationState: session.ActivationActivated,
	}
}

// Pair connects two transports so that sends on one are received by the other.
func Pair(a, b *Transport) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (t *Transport) IsSupported() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supported
}

func (t *Transport) IsPaired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paired
}

func (t *Transport) IsAppInstalled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installed
}

func (t *Transport) IsReachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reachable
}

func (t *Transport) Activate(d session.Delegate) {
	t.mu.Lock()
	t.delegate = d
	t.activateCount++
	state := t.activationState
	err := t.activationErr
	t.activationErr = nil
	t.mu.Unlock()

	d.ActivationComplete(state, err)
}

func (t *Transport) Send(update *m.CounterUpdate, onReply session.ReplyHandler, onError session.ErrorHandler) {
	t.mu.Lock()
	t.sent = append(t.sent, update.Counter)
	sendErr := t.sendErr
	reachable := t.reachable
	hold := t.holdReplies
	peer := t.peer
	t.mu.Unlock()

	if sendErr != nil {
		onError(&session.SendFailedError{Cause: sendErr})
		return
	}
	if !reachable {
		onError(session.ErrSendUnreachable)
		return
	}

	reply := func(ack *m.CounterAck) {
		if hold {
			return
		}
		onReply(ack)
	}

	if peer == nil {
		reply(m.NewCounterAck())
		return
	}

	peer.mu.Lock()
	peerDelegate := peer.delegate
	peer.mu.Unlock()
	if peerDelegate == nil {
		onError(session.ErrSendUnreachable)
		return
	}
	peerDelegate.MessageReceived(update, reply)
}

// SetActivation scripts the result of the next Activate call.
func (t *Transport) SetActivation(state session.ActivationState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activationState = state
	t.activationErr = err
}

func (t *Transport) SetSupported(supported bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supported = supported
}

func (t *Transport) SetPaired(paired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paired = paired
}

func (t *Transport) SetInstalled(installed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.installed = installed
}

// SetReachable updates the fact and notifies the delegate, if activated.
func (t *Transport) SetReachable(reachable bool) {
	t.mu.Lock()
	t.reachable = reachable
	d := t.delegate
	t.mu.Unlock()

	if d != nil {
		d.ReachabilityChanged(reachable)
	}
}

// Fail reports a link failure after activation.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	d := t.delegate
	t.mu.Unlock()

	if d != nil {
		d.ActivationComplete(session.ActivationActivated, err)
	}
}

func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// HoldReplies makes sends never complete, as a stalled link would.
func (t *Transport) HoldReplies(hold bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holdReplies = hold
}

// Deliver simulates an incoming update and records the reply.
func (t *Transport) Deliver(value int64, withReply bool) {
	t.mu.Lock()
	d := t.delegate
	t.mu.Unlock()

	if d == nil {
		return
	}

	var reply session.ReplyHandler
	if withReply {
		reply = func(ack *m.CounterAck) {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.acks = append(t.acks, ack)
		}
	}
	d.MessageReceived(&m.CounterUpdate{Counter: value}, reply)
}

func (t *Transport) Sent() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.sent...)
}

func (t *Transport) Acks() []*m.CounterAck {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*m.CounterAck(nil), t.acks...)
}

func (t *Transport) ActivateCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activateCount
}

// Recorder is an Observer keeping every event it receives.
type Recorder struct {
	mu       sync.Mutex
	counters []session.CounterChanged
	statuses []session.StatusChanged
}

func (r *Recorder) CounterChanged(evt *session.CounterChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, *evt)
}

func (r *Recorder) StatusChanged(evt *session.StatusChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, *evt)
}

func (r *Recorder) Counters() []session.CounterChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.CounterChanged(nil), r.counters...)
}

func (r *Recorder) Statuses() []session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]session.Status, 0, len(r.statuses))
	for _, evt := range r.statuses {
		out = append(out, evt.New)
	}
	return out
}

// Errors lists the non-nil causes attached to status changes.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []error
	for _, evt := range r.statuses {
		if evt.Err != nil {
			out = append(out, evt.Err)
		}
	}
	return out
}

// RemoteValues lists values received from the peer, in order.
func (r *Recorder) RemoteValues() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []int64
	for _, evt := range r.counters {
		if evt.Origin == session.OriginRemote {
			out = append(out, evt.Value)
		}
	}
	return out
}
