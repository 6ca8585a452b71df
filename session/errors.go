package session

import (
	"errors"
	"fmt"
)

var (
	ErrTransportUnsupported = errors.New("transport unsupported")
	ErrSendUnreachable      = errors.New("peer unreachable")
	ErrSendTimeout          = errors.New("peer reply timed out")
	ErrSendSuperseded       = errors.New("send superseded by newer value")
	ErrInvalidArgument      = errors.New("invalid argument")
)

type ActivationFailedError struct {
	Cause error
}

func (e *ActivationFailedError) Error() string {
	return fmt.Sprintf("activation failed: %v", e.Cause)
}

func (e *ActivationFailedError) Unwrap() error {
	return e.Cause
}

type SendFailedError struct {
	Cause error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Cause)
}

func (e *SendFailedError) Unwrap() error {
	return e.Cause
}
