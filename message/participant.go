package message

import "fmt"

type Participant struct {
	Host     string `json:"host"`
	Instance string `json:"instance"`
	Role     string `json:"role"`
	Time     int64  `json:"time"` // epoch milliseconds
}

// ID identifies one process lifetime of a participant.
func (p *Participant) ID() string {
	return fmt.Sprintf("%s-%s-%d", p.Host, p.Instance, p.Time)
}

func (p *Participant) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("invalid Host=%s", p.Host)
	}
	if p.Instance == "" {
		return fmt.Errorf("invalid Instance=%s", p.Instance)
	}
	if p.Time <= 0 {
		return fmt.Errorf("invalid Time=%d", p.Time)
	}
	return nil
}

// PeerHello is the first message on every connection.
type PeerHello struct {
	Participant *Participant `json:"participant"`
	InReconnect bool         `json:"in_reconnect"`
}

type PeerBye struct {
	InShutdown bool `json:"in_shutdown"`
}
