// Package bridge exposes a session to a presentation layer as a method
// channel: named commands with dictionary arguments in, named events out.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Meander-Cloud/go-pairsync/config"
	m "github.com/Meander-Cloud/go-pairsync/message"
	"github.com/Meander-Cloud/go-pairsync/session"
)

const (
	MethodInitializeSession = "initializeSession"
	MethodSendCounter       = "sendCounter"
)

const (
	EventSessionStateChanged = "sessionStateChanged"
	EventCounterUpdated      = "counterUpdated"
)

const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL"
)

const statusKeyField = "status_key"

var ErrNotImplemented = errors.New("method not implemented")

// Channel delivers events to the presentation layer.
type Channel interface {
	InvokeMethod(method string, arguments any)
}

type MethodCall struct {
	Method    string
	Arguments any
}

type MethodError struct {
	Code    string
	Message string
	Cause   error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *MethodError) Unwrap() error {
	return e.Cause
}

type SessionStateChanged struct {
	StatusKey string `mapstructure:"status_key"`
}

type Bridge struct {
	c  *config.Config
	s  *session.Session
	ch Channel
}

// NewBridge subscribes the bridge to s; events flow to ch from then on.
func NewBridge(c *config.Config, s *session.Session, ch Channel) (*Bridge, error) {
	if s == nil {
		err := fmt.Errorf("%s: nil Session", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if ch == nil {
		err := fmt.Errorf("%s: nil Channel", c.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	b := &Bridge{
		c:  c,
		s:  s,
		ch: ch,
	}

	err := s.Subscribe(b)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// HandleMethodCall runs one presentation command and returns its result.
// Transport trouble never fails a command: sendCounter answers false and the
// status shows up as an event.
func (b *Bridge) HandleMethodCall(ctx context.Context, call *MethodCall) (any, error) {
	switch call.Method {
	case MethodInitializeSession:
		status, err := b.s.Initialize(ctx)
		if err != nil {
			return nil, &MethodError{
				Code:    CodeInternal,
				Message: err.Error(),
				Cause:   err,
			}
		}
		return map[string]any{statusKeyField: status.Key()}, nil
	case MethodSendCounter:
		update, err := m.DecodeCounterUpdate(call.Arguments)
		if err != nil {
			err = fmt.Errorf("%w: %w", session.ErrInvalidArgument, err)
			log.Printf("%s: %s: %s", b.c.LogPrefix, call.Method, err.Error())
			return nil, &MethodError{
				Code:    CodeInvalidArgument,
				Message: "expected {\"counter\": <integer>}",
				Cause:   err,
			}
		}

		delivered, err := b.s.Update(ctx, update.Counter)
		if err != nil {
			if ctx.Err() != nil {
				// local value is applied, the outcome is unknown to the caller
				log.Printf("%s: %s: counter=%d outcome not awaited, err=%s", b.c.LogPrefix, call.Method, update.Counter, err.Error())
				return false, nil
			}
			return nil, &MethodError{
				Code:    CodeInternal,
				Message: err.Error(),
				Cause:   err,
			}
		}
		return delivered, nil
	default:
		log.Printf("%s: unknown method=%s", b.c.LogPrefix, call.Method)
		return nil, ErrNotImplemented
	}
}

// invoked on arbiter goroutine
func (b *Bridge) StatusChanged(evt *session.StatusChanged) {
	args, err := m.ToMap(&SessionStateChanged{StatusKey: evt.New.Key()})
	if err != nil {
		log.Printf("%s: %s", b.c.LogPrefix, err.Error())
		return
	}
	b.ch.InvokeMethod(EventSessionStateChanged, args)
}

// invoked on arbiter goroutine
func (b *Bridge) CounterChanged(evt *session.CounterChanged) {
	if evt.Origin != session.OriginRemote {
		// presentation already shows its own edits
		return
	}

	args, err := m.ToMap(&m.CounterUpdate{Counter: evt.Value})
	if err != nil {
		log.Printf("%s: %s", b.c.LogPrefix, err.Error())
		return
	}
	b.ch.InvokeMethod(EventCounterUpdated, args)
}
