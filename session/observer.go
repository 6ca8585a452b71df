package session

import "time"

type Origin uint8

const (
	OriginInvalid Origin = 0
	OriginLocal   Origin = 1
	OriginRemote  Origin = 2
)

func (o Origin) String() string {
	switch o {
	case OriginInvalid:
		return "Invalid Origin"
	case OriginLocal:
		return "Local"
	case OriginRemote:
		return "Remote"
	default:
		return "Unknown Origin"
	}
}

type CounterChanged struct {
	Value  int64
	Origin Origin
	Time   time.Time
}

type StatusChanged struct {
	Old  Status
	New  Status
	Err  error // transport failure behind StatusError, if any
	Time time.Time
}

// Observer is the presentation side of a session. Callbacks are invoked on
// the session arbiter goroutine and must not block.
type Observer interface {
	CounterChanged(*CounterChanged)
	StatusChanged(*StatusChanged)
}

type Snapshot struct {
	Value   int64
	Status  Status
	Pending bool
}
