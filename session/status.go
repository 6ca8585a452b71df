package session

import "fmt"

// Status is the fine grained session status reported to presentation.
type Status uint8

const (
	StatusInvalid      Status = 0
	StatusNotSupported Status = 1
	StatusConnecting   Status = 2
	StatusNotPaired    Status = 3
	StatusNotInstalled Status = 4
	StatusNotReachable Status = 5
	StatusConnected    Status = 6
	StatusError        Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "Invalid Status"
	case StatusNotSupported:
		return "Not Supported"
	case StatusConnecting:
		return "Connecting"
	case StatusNotPaired:
		return "Not Paired"
	case StatusNotInstalled:
		return "Not Installed"
	case StatusNotReachable:
		return "Not Reachable"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown Status"
	}
}

// Key is the status_key string carried in bridge events.
func (s Status) Key() string {
	switch s {
	case StatusNotSupported:
		return "not_supported"
	case StatusConnecting:
		return "connecting"
	case StatusNotPaired:
		return "not_paired"
	case StatusNotInstalled:
		return "not_installed"
	case StatusNotReachable:
		return "not_reachable"
	case StatusConnected:
		return "connected"
	default:
		return "error"
	}
}

func ParseStatusKey(key string) (Status, error) {
	for s := StatusNotSupported; s <= StatusError; s++ {
		if s.Key() == key {
			return s, nil
		}
	}
	return StatusInvalid, fmt.Errorf("unknown status_key=%q", key)
}

func (s Status) State() SessionState {
	switch s {
	case StatusNotSupported:
		return StateNotSupported
	case StatusConnecting:
		return StateConnecting
	case StatusNotPaired, StatusNotInstalled, StatusNotReachable:
		return StateDisconnected
	case StatusConnected:
		return StateConnected
	default:
		return StateError
	}
}

// SessionState is the coarse state machine position derived from Status.
type SessionState uint8

const (
	StateInvalid      SessionState = 0
	StateNotSupported SessionState = 1
	StateConnecting   SessionState = 2
	StateConnected    SessionState = 3
	StateDisconnected SessionState = 4
	StateError        SessionState = 5
)

func (s SessionState) String() string {
	switch s {
	case StateInvalid:
		return "Invalid State"
	case StateNotSupported:
		return "Not Supported"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateError:
		return "Error"
	default:
		return "Unknown State"
	}
}

// ActivationState is reported by the transport when activation completes.
type ActivationState uint8

const (
	ActivationInvalid      ActivationState = 0
	ActivationNotActivated ActivationState = 1
	ActivationInactive     ActivationState = 2
	ActivationActivated    ActivationState = 3
)

func (a ActivationState) String() string {
	switch a {
	case ActivationInvalid:
		return "Invalid Activation"
	case ActivationNotActivated:
		return "Not Activated"
	case ActivationInactive:
		return "Inactive"
	case ActivationActivated:
		return "Activated"
	default:
		return "Unknown Activation"
	}
}

// DeriveStatus collapses overlapping link facts into one status with
// precedence error > not supported > not paired > not installed > not reachable.
func DeriveStatus(supported, paired, installed, reachable bool, err error) Status {
	switch {
	case err != nil:
		return StatusError
	case !supported:
		return StatusNotSupported
	case !paired:
		return StatusNotPaired
	case !installed:
		return StatusNotInstalled
	case !reachable:
		return StatusNotReachable
	default:
		return StatusConnected
	}
}

// statusForActivation maps an activation result the way the link reports it.
func statusForActivation(state ActivationState, err error, t Transport) Status {
	if err != nil {
		return StatusError
	}

	switch state {
	case ActivationActivated:
		return DeriveStatus(
			t.IsSupported(),
			t.IsPaired(),
			t.IsAppInstalled(),
			t.IsReachable(),
			nil,
		)
	case ActivationInactive:
		return StatusNotReachable
	case ActivationNotActivated:
		return StatusConnecting
	default:
		return StatusError
	}
}
