// Package peer wires one side of a pairing: arbiter, metrics, link and
// session, built from a single Config.
package peer

import (
	"log"
	"time"

	"github.com/Meander-Cloud/go-pairsync/arbiter"
	"github.com/Meander-Cloud/go-pairsync/config"
	m "github.com/Meander-Cloud/go-pairsync/message"
	"github.com/Meander-Cloud/go-pairsync/metrics"
	"github.com/Meander-Cloud/go-pairsync/net/tcp"
	"github.com/Meander-Cloud/go-pairsync/session"
)

type Peer struct {
	c               *config.Config
	a               *arbiter.Arbiter
	mt              *metrics.Metrics
	link            *tcp.Link
	session         *session.Session
	selfParticipant *m.Participant
}

func NewPeer(c *config.Config, observers ...session.Observer) (*Peer, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}

	p := &Peer{
		c:  c,
		a:  arbiter.NewArbiter(c),
		mt: metrics.NewMetrics(c.Host),
		selfParticipant: &m.Participant{
			Host:     c.Host,
			Instance: c.Instance,
			Role:     c.Role,
			Time:     time.Now().UTC().UnixMilli(),
		},
	}

	defer func() {
		if err != nil {
			p.Shutdown() // wait
		}
	}()

	var t session.Transport
	switch c.Transport {
	case config.TransportTcp:
		p.link, err = tcp.NewLink(c, p.a, p.selfParticipant)
		if err != nil {
			return nil, err
		}
		t = p.link
	default:
		t = session.UnsupportedTransport{}
	}

	p.session, err = session.NewSession(c, p.a, t, p.mt, observers...)
	if err != nil {
		return nil, err
	}

	log.Printf(
		"%s: peer %s created, role=%s, transport=%s, pairedHost=%s",
		c.LogPrefix,
		p.selfParticipant.ID(),
		c.Role,
		c.Transport,
		c.PairedHost,
	)

	return p, nil
}

func (p *Peer) Session() *session.Session {
	return p.session
}

func (p *Peer) Metrics() *metrics.Metrics {
	return p.mt
}

func (p *Peer) Participant() *m.Participant {
	return p.selfParticipant
}

func (p *Peer) Shutdown() {
	if p.link != nil {
		p.link.Shutdown() // wait
	}

	if p.a != nil {
		p.a.Shutdown() // wait
	}
}
